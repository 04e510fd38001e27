package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tgeasy/internal/domain"
)

// WebhookSecretHeader содержит имя заголовка, в котором Bot API передаёт secret_token вебхука.
const WebhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// MembershipWebhook принимает обновления Bot API и ставит канал в очередь синхронизации,
// когда меняется состав его администрации.
type MembershipWebhook struct {
	queue  domain.SyncQueue
	secret string
	log    zerolog.Logger
	now    func() time.Time
}

// NewMembershipWebhook создаёт обработчик вебхука.
func NewMembershipWebhook(queue domain.SyncQueue, secret string, logger zerolog.Logger) *MembershipWebhook {
	return &MembershipWebhook{
		queue:  queue,
		secret: secret,
		log:    logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

// MountWebhook подключает обработчик по указанному пути.
func (s *Server) MountWebhook(path string, h *MembershipWebhook) {
	s.Router.Post(path, h.ServeHTTP)
}

func (h *MembershipWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			WriteError(w, http.StatusUnauthorized, errors.New("неверный secret_token"))
			return
		}
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&update); err != nil {
		WriteError(w, http.StatusBadRequest, err)
		return
	}

	changed := adminChange(update)
	if changed == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	job := domain.SyncJob{
		ID:          uuid.NewString(),
		ChannelID:   changed.Chat.ID,
		Force:       true,
		RequestedAt: h.now().UTC(),
		Cause:       domain.SyncCauseMembership,
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Int64("channel_id", job.ChannelID).Msg("webhook: не удалось поставить синхронизацию")
		// 5xx заставит Bot API повторить доставку
		WriteError(w, http.StatusServiceUnavailable, err)
		return
	}
	h.log.Info().Int64("channel_id", job.ChannelID).Int("update_id", update.UpdateID).Msg("webhook: канал поставлен в очередь")
	w.WriteHeader(http.StatusOK)
}

// adminChange возвращает изменение участника канала, если до или после него участник был администратором.
func adminChange(update tgbotapi.Update) *tgbotapi.ChatMemberUpdated {
	for _, changed := range []*tgbotapi.ChatMemberUpdated{update.ChatMember, update.MyChatMember} {
		if changed == nil || !changed.Chat.IsChannel() {
			continue
		}
		if isAdmin(changed.OldChatMember) || isAdmin(changed.NewChatMember) {
			return changed
		}
	}
	return nil
}

func isAdmin(member tgbotapi.ChatMember) bool {
	return member.IsCreator() || member.IsAdministrator()
}
