package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

const (
	defaultBaseURL   = "https://api.telegram.org"
	maxResponseBytes = 8 << 20
)

// Config описывает параметры клиента Bot API.
type Config struct {
	Token      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    *RateLimiter
	Retrier    *Retrier
	Logger     zerolog.Logger
}

// Client — типизированный клиент административных методов Bot API.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *RateLimiter
	retrier *Retrier
	log     zerolog.Logger
}

// NewClient создаёт клиента. Лимитер и политика повторов по умолчанию: 30 rps, burst 30, 3 попытки.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(30, 30)
	}
	c := &Client{
		token:   cfg.Token,
		baseURL: baseURL,
		http:    httpClient,
		limiter: limiter,
		log:     cfg.Logger,
	}
	c.retrier = cfg.Retrier
	if c.retrier == nil {
		c.retrier = NewRetrier(DefaultRetryPolicy())
	}
	return c
}

func (c *Client) logRetry(method string, attempt int, delay time.Duration, err error) {
	metrics.IncTelegramRetry(method)
	c.log.Warn().Err(err).Str("method", method).Int("attempt", attempt).Dur("delay", delay).Msg("telegram: повтор запроса")
}

// SendOptions — дополнительные параметры sendMessage.
type SendOptions struct {
	ParseMode             string
	DisableWebPagePreview bool
	DisableNotification   bool
	ReplyMarkup           *tgbotapi.InlineKeyboardMarkup
}

// WebhookOptions — параметры setWebhook.
type WebhookOptions struct {
	URL                string
	SecretToken        string
	MaxConnections     int
	AllowedUpdates     []string
	DropPendingUpdates bool
}

// GetMe возвращает профиль бота.
func (c *Client) GetMe(ctx context.Context) (tgbotapi.User, error) {
	var me tgbotapi.User
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return tgbotapi.User{}, err
	}
	return me, nil
}

// ValidateToken проверяет токен через getMe. Ошибки превращаются в false.
func (c *Client) ValidateToken(ctx context.Context) bool {
	if strings.TrimSpace(c.token) == "" {
		return false
	}
	me, err := c.GetMe(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("telegram: токен не прошёл проверку")
		return false
	}
	return me.IsBot
}

// GetChat возвращает метаданные чата.
func (c *Client) GetChat(ctx context.Context, chatID int64) (tgbotapi.Chat, error) {
	var chat tgbotapi.Chat
	if err := c.call(ctx, "getChat", map[string]any{"chat_id": chatID}, &chat); err != nil {
		return tgbotapi.Chat{}, err
	}
	return chat, nil
}

// GetChatMember возвращает участника чата.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (domain.ChatMember, error) {
	var raw chatMember
	params := map[string]any{"chat_id": chatID, "user_id": userID}
	if err := c.call(ctx, "getChatMember", params, &raw); err != nil {
		return domain.ChatMember{}, err
	}
	if raw.User == nil {
		return domain.ChatMember{}, fmt.Errorf("telegram getChatMember: response without user")
	}
	return raw.toDomain(), nil
}

// GetChatAdministrators возвращает создателя и администраторов чата.
// Остальные статусы отбрасываются.
func (c *Client) GetChatAdministrators(ctx context.Context, chatID int64) ([]domain.ChatMember, error) {
	var raw []chatMember
	if err := c.call(ctx, "getChatAdministrators", map[string]any{"chat_id": chatID}, &raw); err != nil {
		return nil, err
	}
	admins := make([]domain.ChatMember, 0, len(raw))
	for _, m := range raw {
		if m.User == nil {
			c.log.Warn().Int64("chat_id", chatID).Str("status", m.Status).Msg("telegram: администратор без пользователя пропущен")
			continue
		}
		member := m.toDomain()
		if !member.Status.IsAdmin() {
			continue
		}
		admins = append(admins, member)
	}
	return admins, nil
}

// GetChatMemberCount возвращает количество участников чата.
func (c *Client) GetChatMemberCount(ctx context.Context, chatID int64) (int, error) {
	var count int
	if err := c.call(ctx, "getChatMemberCount", map[string]any{"chat_id": chatID}, &count); err != nil {
		return 0, err
	}
	return count, nil
}

type sendMessageRequest struct {
	ChatID                int64                          `json:"chat_id"`
	Text                  string                         `json:"text"`
	ParseMode             string                         `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                           `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool                           `json:"disable_notification,omitempty"`
	ReplyMarkup           *tgbotapi.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// SendMessage отправляет текстовое сообщение.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) (tgbotapi.Message, error) {
	if strings.TrimSpace(text) == "" {
		return tgbotapi.Message{}, fmt.Errorf("telegram sendMessage: empty text")
	}
	req := sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             opts.ParseMode,
		DisableWebPagePreview: opts.DisableWebPagePreview,
		DisableNotification:   opts.DisableNotification,
		ReplyMarkup:           opts.ReplyMarkup,
	}
	var msg tgbotapi.Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return tgbotapi.Message{}, err
	}
	return msg, nil
}

type setWebhookRequest struct {
	URL                string   `json:"url"`
	SecretToken        string   `json:"secret_token,omitempty"`
	MaxConnections     int      `json:"max_connections,omitempty"`
	AllowedUpdates     []string `json:"allowed_updates,omitempty"`
	DropPendingUpdates bool     `json:"drop_pending_updates,omitempty"`
}

// SetWebhook регистрирует вебхук.
func (c *Client) SetWebhook(ctx context.Context, opts WebhookOptions) error {
	if strings.TrimSpace(opts.URL) == "" {
		return fmt.Errorf("telegram setWebhook: url is required")
	}
	req := setWebhookRequest{
		URL:                opts.URL,
		SecretToken:        opts.SecretToken,
		MaxConnections:     opts.MaxConnections,
		AllowedUpdates:     opts.AllowedUpdates,
		DropPendingUpdates: opts.DropPendingUpdates,
	}
	return c.call(ctx, "setWebhook", req, nil)
}

// GetWebhookInfo возвращает состояние вебхука.
func (c *Client) GetWebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error) {
	var info tgbotapi.WebhookInfo
	if err := c.call(ctx, "getWebhookInfo", nil, &info); err != nil {
		return tgbotapi.WebhookInfo{}, err
	}
	return info, nil
}

// DeleteWebhook удаляет вебхук.
func (c *Client) DeleteWebhook(ctx context.Context, dropPendingUpdates bool) error {
	params := map[string]any{}
	if dropPendingUpdates {
		params["drop_pending_updates"] = true
	}
	return c.call(ctx, "deleteWebhook", params, nil)
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body := []byte("{}")
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("telegram %s: marshal request: %w", method, err)
		}
		body = raw
	}
	return c.retrier.DoWithHook(ctx, method, c.logRetry, func(ctx context.Context) error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
		return c.do(ctx, method, body, out)
	})
}

func (c *Client) do(ctx context.Context, method string, body []byte, out any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: build request: %w", method, c.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = &TransportError{Method: method, Err: c.redact(err)}
		metrics.ObserveNetworkRequest("telegram", method, "bot_api", start, err)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = &TransportError{Method: method, Err: err}
		metrics.ObserveNetworkRequest("telegram", method, "bot_api", start, err)
		return err
	}

	var apiResp tgbotapi.APIResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		if resp.StatusCode >= http.StatusMultipleChoices {
			apiErr := &APIError{Method: method, Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
			metrics.ObserveNetworkRequest("telegram", method, "bot_api", start, apiErr)
			return apiErr
		}
		err = fmt.Errorf("telegram %s: decode response: %w", method, err)
		metrics.ObserveNetworkRequest("telegram", method, "bot_api", start, err)
		return err
	}
	if !apiResp.Ok {
		apiErr := &APIError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
			apiErr.MigrateToChatID = apiResp.Parameters.MigrateToChatID
		}
		metrics.ObserveNetworkRequest("telegram", method, "bot_api", start, apiErr)
		return apiErr
	}
	metrics.ObserveNetworkRequest("telegram", method, "bot_api", start, nil)
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(apiResp.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// redact убирает токен из ошибок net/http, в которых фигурирует URL запроса.
func (c *Client) redact(err error) error {
	if err == nil || c.token == "" {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		clone := *urlErr
		clone.URL = strings.ReplaceAll(clone.URL, c.token, "<redacted>")
		return &clone
	}
	if strings.Contains(err.Error(), c.token) {
		return errors.New(strings.ReplaceAll(err.Error(), c.token, "<redacted>"))
	}
	return err
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
