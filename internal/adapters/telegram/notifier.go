package telegram

import (
	"context"
	"fmt"
	"strings"
)

// messageLimit — максимальная длина текста sendMessage в символах.
const messageLimit = 4096

// Notifier отправляет уведомления в личный чат пользователя с ботом.
type Notifier struct {
	client *Client
	opts   SendOptions
}

// NewNotifier создаёт уведомитель поверх клиента Bot API.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{
		client: client,
		opts:   SendOptions{DisableWebPagePreview: true},
	}
}

// Notify отправляет текст, разбивая его на сообщения допустимой длины.
func (n *Notifier) Notify(ctx context.Context, userID int64, text string) error {
	for i, part := range splitText(text, messageLimit) {
		if _, err := n.client.SendMessage(ctx, userID, part, n.opts); err != nil {
			return fmt.Errorf("notify user %d (part %d): %w", userID, i+1, err)
		}
	}
	return nil
}

// splitText режет текст на куски не длиннее limit символов,
// по возможности по границе строки.
func splitText(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > 0; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if chunk := strings.Trim(string(runes[:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		runes = []rune(strings.TrimLeft(string(runes[cut:]), "\n"))
	}
	if chunk := strings.Trim(string(runes), "\n"); chunk != "" {
		parts = append(parts, chunk)
	}
	return parts
}
