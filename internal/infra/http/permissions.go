package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tgeasy/internal/domain"
	"tgeasy/internal/usecase/permissions"
)

// PermissionService описывает операции над правами, которые нужны API.
type PermissionService interface {
	Sync(ctx context.Context, channelID int64, force bool) (domain.SyncResult, error)
	GetAccess(ctx context.Context, channelID, userID int64) (permissions.Access, error)
	RevokeAccess(ctx context.Context, channelID, actorID, targetID int64) error
}

// TokenValidator проверяет токен бота.
type TokenValidator interface {
	ValidateToken(ctx context.Context) bool
}

// PermissionHandler обслуживает /channels/{id}/permissions.
type PermissionHandler struct {
	svc PermissionService
	log zerolog.Logger
}

// NewPermissionHandler создаёт обработчик.
func NewPermissionHandler(svc PermissionService, logger zerolog.Logger) *PermissionHandler {
	return &PermissionHandler{svc: svc, log: logger.With().Str("component", "http").Logger()}
}

// Routes регистрирует маршруты.
func (h *PermissionHandler) Routes(r chi.Router) {
	r.Route("/channels/{id}/permissions", func(r chi.Router) {
		r.Post("/", h.sync)
		r.Get("/", h.get)
		r.Delete("/", h.revoke)
	})
}

type syncRequest struct {
	Force bool `json:"force"`
}

type syncResponse struct {
	Success bool                   `json:"success"`
	Synced  []int64                `json:"synced_permissions"`
	Removed []int64                `json:"removed_permissions"`
	Errors  []domain.UserSyncError `json:"errors"`
	Skipped bool                   `json:"skipped"`
}

type accessResponse struct {
	Permission   domain.PermissionRecord `json:"permission"`
	Capabilities domain.CapabilitySet    `json:"capabilities"`
	Summary      *domain.ChannelSummary  `json:"summary,omitempty"`
	RefreshError string                  `json:"refresh_error,omitempty"`
}

func (h *PermissionHandler) sync(w http.ResponseWriter, r *http.Request) {
	channelID, callerID, ok := h.params(w, r)
	if !ok {
		return
	}
	var req syncRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, fmt.Errorf("некорректное тело запроса: %w", err))
		return
	}

	// проход запускает только участник канала; отсутствующая запись проверяется у платформы
	if _, err := h.svc.GetAccess(r.Context(), channelID, callerID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	res, err := h.svc.Sync(r.Context(), channelID, req.Force)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrLockNotAcquired) {
			status = http.StatusConflict
		}
		h.log.Error().Err(err).Int64("channel_id", channelID).Str("request_id", RequestID(r)).Msg("http: синхронизация не удалась")
		WriteJSON(w, status, ErrorResponse{Error: joinErrors(err)})
		return
	}

	errs := res.Errors
	if errs == nil {
		errs = []domain.UserSyncError{}
	}
	WriteJSON(w, http.StatusOK, syncResponse{
		Success: true,
		Synced:  res.Synced,
		Removed: res.Removed,
		Errors:  errs,
		Skipped: res.Skipped,
	})
}

func (h *PermissionHandler) get(w http.ResponseWriter, r *http.Request) {
	channelID, callerID, ok := h.params(w, r)
	if !ok {
		return
	}
	access, err := h.svc.GetAccess(r.Context(), channelID, callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, accessResponse{
		Permission:   access.Permission,
		Capabilities: access.Capabilities,
		Summary:      access.Summary,
		RefreshError: access.RefreshError,
	})
}

func (h *PermissionHandler) revoke(w http.ResponseWriter, r *http.Request) {
	channelID, callerID, ok := h.params(w, r)
	if !ok {
		return
	}
	targetID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || targetID == 0 {
		WriteError(w, http.StatusBadRequest, errors.New("некорректный user_id"))
		return
	}
	if err := h.svc.RevokeAccess(r.Context(), channelID, callerID, targetID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *PermissionHandler) params(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	channelID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || channelID == 0 {
		WriteError(w, http.StatusBadRequest, errors.New("некорректный id канала"))
		return 0, 0, false
	}
	callerID, ok := UserID(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, errInitDataNoUser)
		return 0, 0, false
	}
	return channelID, callerID, true
}

func (h *PermissionHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSelfRevoke):
		WriteError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrForbidden):
		WriteError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrPermissionNotFound):
		WriteError(w, http.StatusNotFound, err)
	default:
		h.log.Error().Err(err).Str("request_id", RequestID(r)).Msg("http: ошибка сервиса прав")
		WriteError(w, http.StatusInternalServerError, err)
	}
}

// joinErrors разворачивает errors.Join и цепочки в одну строку через "; ".
func joinErrors(err error) string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		parts := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			parts = append(parts, e.Error())
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

type healthResponse struct {
	Status   string `json:"status"`
	Telegram bool   `json:"telegram"`
}

func healthHandler(token TokenValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		ok := token.ValidateToken(ctx)
		status := "ok"
		if !ok {
			status = "degraded"
		}
		WriteJSON(w, http.StatusOK, healthResponse{Status: status, Telegram: ok})
	}
}
