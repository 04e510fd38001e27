package permissions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

// partialDataError записывается пользователю, если платформа не отдала флаги прав администратора.
const partialDataError = "incomplete administrator data: bot cannot read permission flags"

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	// SyncTimeout ограничивает один проход синхронизации, включая ожидание лимитера и повторы.
	SyncTimeout time.Duration
	// Locker сериализует проходы по каналу между процессами.
	Locker  domain.Locker
	LockTTL time.Duration
	// Notifier уведомляет пользователя об отзыве доступа.
	Notifier domain.Notifier
	// Events сохраняет бизнесовые события.
	Events domain.BusinessMetricRepo
	Logger zerolog.Logger
	Now    func() time.Time
}

// Service сверяет локальные права с администрацией канала на платформе.
type Service struct {
	repo        domain.PermissionRepo
	source      domain.ChatAdminSource
	notifier    domain.Notifier
	events      domain.BusinessMetricRepo
	locker      domain.Locker
	lockTTL     time.Duration
	syncTimeout time.Duration
	channels    *KeyedLocker
	flights     singleflight.Group
	log         zerolog.Logger
	now         func() time.Time
}

// Access содержит права пользователя в канале с учётом статуса создателя.
type Access struct {
	Permission   domain.PermissionRecord
	Capabilities domain.CapabilitySet
	// Summary заполняется только для создателя канала.
	Summary *domain.ChannelSummary
	// RefreshError содержит ошибку обновления, если вернулась последняя известная запись.
	RefreshError string
}

// NewService создаёт сервис синхронизации прав.
func NewService(repo domain.PermissionRepo, source domain.ChatAdminSource, opts Options) *Service {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.SyncTimeout + 5*time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:        repo,
		source:      source,
		notifier:    opts.Notifier,
		events:      opts.Events,
		locker:      opts.Locker,
		lockTTL:     opts.LockTTL,
		syncTimeout: opts.SyncTimeout,
		channels:    NewKeyedLocker(),
		log:         opts.Logger.With().Str("component", "permission_sync").Logger(),
		now:         opts.Now,
	}
}

// Sync выполняет проход синхронизации канала. Одновременные одинаковые запросы
// объединяются, проходы по одному каналу не пересекаются.
// Проход ограничен ближайшим из дедлайна первого вызывающего и SyncTimeout.
// После истечения дедлайна проход ничего не записывает и возвращает ErrPlatformTimeout.
func (s *Service) Sync(ctx context.Context, channelID int64, force bool) (domain.SyncResult, error) {
	key := strconv.FormatInt(channelID, 10) + ":" + strconv.FormatBool(force)
	ch := s.flights.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
		defer cancel()
		return s.syncLocked(runCtx, channelID, force)
	})
	select {
	case <-ctx.Done():
		return domain.SyncResult{}, abortError(channelID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.SyncResult{}, res.Err
		}
		return res.Val.(domain.SyncResult), nil
	}
}

func (s *Service) syncLocked(ctx context.Context, channelID int64, force bool) (domain.SyncResult, error) {
	unlock, err := s.lockChannel(ctx, channelID)
	if err != nil {
		return domain.SyncResult{}, err
	}
	defer unlock()
	return s.reconcile(ctx, channelID, force)
}

func (s *Service) lockChannel(ctx context.Context, channelID int64) (func(), error) {
	key := "permissions:channel:" + strconv.FormatInt(channelID, 10)
	unlock, err := s.channels.Lock(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, abortError(channelID, ctxErr)
		}
		return nil, fmt.Errorf("ожидание блокировки канала %d: %w", channelID, err)
	}
	if s.locker == nil {
		return unlock, nil
	}
	release, err := s.locker.Lock(ctx, key, s.lockTTL)
	if err != nil {
		unlock()
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return nil, err
		}
		return nil, fmt.Errorf("распределённая блокировка канала %d: %w", channelID, err)
	}
	return func() {
		release()
		unlock()
	}, nil
}

func (s *Service) reconcile(ctx context.Context, channelID int64, force bool) (domain.SyncResult, error) {
	start := time.Now()
	result := domain.SyncResult{ChannelID: channelID, Synced: []int64{}, Removed: []int64{}}

	if !force {
		summary, err := s.repo.ChannelSummary(ctx, channelID)
		if err != nil {
			metrics.ObservePermissionSync("failed", start, 0, 0)
			return domain.SyncResult{}, fmt.Errorf("сводка по каналу: %w", err)
		}
		if !summary.NeedsSync {
			result.Skipped = true
			result.SyncedAt = s.now().UTC()
			metrics.ObservePermissionSync("skipped", start, 0, 0)
			s.log.Debug().Int64("channel_id", channelID).Msg("permission_sync: записи свежие, проход пропущен")
			return result, nil
		}
	}

	admins, err := s.source.GetChatAdministrators(ctx, channelID)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		metrics.ObservePermissionSync("failed", start, 0, 0)
		s.log.Error().Err(err).Int64("channel_id", channelID).Msg("permission_sync: не удалось получить администраторов")
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, domain.ErrPlatformTimeout) {
			return domain.SyncResult{}, abortError(channelID, ctxErr)
		}
		return domain.SyncResult{}, fmt.Errorf("%w: channel %d: %w", domain.ErrSyncFailed, channelID, err)
	}

	existing, err := s.repo.ListForChannel(ctx, channelID)
	if err != nil {
		metrics.ObservePermissionSync("failed", start, 0, 0)
		return domain.SyncResult{}, fmt.Errorf("локальные записи канала: %w", err)
	}
	known := make(map[int64]bool, len(existing))
	for _, rec := range existing {
		known[rec.UserID] = true
	}

	order, remote := dedupeMembers(admins)
	for _, userID := range order {
		if err := ctx.Err(); err != nil {
			return s.aborted(channelID, start, result, err)
		}
		member := remote[userID]
		status, ok := domain.TelegramStatusFromMember(member.Status)
		if !ok {
			continue
		}
		if member.Partial && status == domain.TelegramStatusAdministrator {
			s.recordUserError(ctx, &result, channelID, userID, partialDataError, known[userID])
			continue
		}
		input := domain.PermissionInput{
			ChannelID:      channelID,
			UserID:         userID,
			TelegramStatus: status,
			Capabilities:   member.Capabilities,
		}
		if _, err := s.repo.Upsert(ctx, input); err != nil {
			s.recordUserError(ctx, &result, channelID, userID, err.Error(), known[userID])
			continue
		}
		result.Synced = append(result.Synced, userID)
	}

	for _, rec := range existing {
		if _, ok := remote[rec.UserID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return s.aborted(channelID, start, result, err)
		}
		err := s.repo.Delete(ctx, rec.UserID, channelID)
		switch {
		case err == nil:
			result.Removed = append(result.Removed, rec.UserID)
		case errors.Is(err, domain.ErrPermissionNotFound):
		default:
			s.recordUserError(ctx, &result, channelID, rec.UserID, err.Error(), true)
		}
	}

	result.SyncedAt = s.now().UTC()
	outcome := "ok"
	if len(result.Errors) > 0 {
		outcome = "partial"
	}
	metrics.ObservePermissionSync(outcome, start, len(result.Removed), len(result.Errors))
	s.recordEvent(ctx, domain.BusinessMetric{
		Event:     domain.BusinessMetricEventPermissionsSynced,
		ChannelID: &channelID,
		Metadata: map[string]any{
			"synced":  len(result.Synced),
			"removed": len(result.Removed),
			"errors":  len(result.Errors),
			"forced":  force,
		},
		OccurredAt: result.SyncedAt,
	})
	s.log.Info().
		Int64("channel_id", channelID).
		Int("synced", len(result.Synced)).
		Int("removed", len(result.Removed)).
		Int("errors", len(result.Errors)).
		Dur("took", time.Since(start)).
		Msg("permission_sync: проход завершён")
	return result, nil
}

// aborted завершает проход, прерванный истечением контекста. Уже сделанные записи остаются.
func (s *Service) aborted(channelID int64, start time.Time, partial domain.SyncResult, cause error) (domain.SyncResult, error) {
	metrics.ObservePermissionSync("failed", start, len(partial.Removed), len(partial.Errors))
	s.log.Warn().Err(cause).
		Int64("channel_id", channelID).
		Int("synced", len(partial.Synced)).
		Int("removed", len(partial.Removed)).
		Msg("permission_sync: проход прерван по дедлайну")
	return domain.SyncResult{}, abortError(channelID, cause)
}

// abortError классифицирует ошибку контекста: истёкший дедлайн становится ErrPlatformTimeout.
func abortError(channelID int64, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: channel %d: %w: %w", domain.ErrSyncFailed, channelID, domain.ErrPlatformTimeout, cause)
	}
	return fmt.Errorf("%w: channel %d: %w", domain.ErrSyncFailed, channelID, cause)
}

// dedupeMembers убирает повторы пользователей: остаётся последняя запись, порядок по первому появлению.
func dedupeMembers(members []domain.ChatMember) ([]int64, map[int64]domain.ChatMember) {
	order := make([]int64, 0, len(members))
	byUser := make(map[int64]domain.ChatMember, len(members))
	for _, m := range members {
		if _, seen := byUser[m.UserID]; !seen {
			order = append(order, m.UserID)
		}
		byUser[m.UserID] = m
	}
	return order, byUser
}

func (s *Service) recordUserError(ctx context.Context, result *domain.SyncResult, channelID, userID int64, message string, known bool) {
	result.Errors = append(result.Errors, domain.UserSyncError{UserID: userID, Error: message})
	if !known {
		return
	}
	if err := s.repo.MarkSyncError(ctx, userID, channelID, message); err != nil {
		s.log.Warn().Err(err).Int64("channel_id", channelID).Int64("user_id", userID).Msg("permission_sync: не удалось сохранить ошибку пользователя")
	}
}

func (s *Service) recordEvent(ctx context.Context, metric domain.BusinessMetric) {
	if s.events == nil {
		return
	}
	if err := s.events.RecordBusinessMetric(ctx, metric); err != nil {
		s.log.Warn().Err(err).Str("event", metric.Event).Msg("permission_sync: не удалось сохранить бизнес-метрику")
	}
}

// SyncUser обновляет запись одного пользователя по getChatMember.
// Если пользователь больше не администратор, запись удаляется и возвращается ErrPermissionNotFound.
func (s *Service) SyncUser(ctx context.Context, channelID, userID int64) (domain.PermissionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	unlock, err := s.lockChannel(ctx, channelID)
	if err != nil {
		return domain.PermissionRecord{}, err
	}
	defer unlock()

	member, err := s.source.GetChatMember(ctx, channelID, userID)
	if err != nil {
		s.markBestEffort(ctx, channelID, userID, err.Error())
		return domain.PermissionRecord{}, fmt.Errorf("%w: user %d: %w", domain.ErrSyncFailed, userID, err)
	}
	status, ok := domain.TelegramStatusFromMember(member.Status)
	if !ok {
		if err := s.repo.Delete(ctx, userID, channelID); err != nil && !errors.Is(err, domain.ErrPermissionNotFound) {
			return domain.PermissionRecord{}, fmt.Errorf("удаление записи: %w", err)
		}
		return domain.PermissionRecord{}, domain.ErrPermissionNotFound
	}
	if member.Partial && status == domain.TelegramStatusAdministrator {
		s.markBestEffort(ctx, channelID, userID, partialDataError)
		return domain.PermissionRecord{}, fmt.Errorf("%w: user %d: %s", domain.ErrSyncFailed, userID, partialDataError)
	}
	rec, err := s.repo.Upsert(ctx, domain.PermissionInput{
		ChannelID:      channelID,
		UserID:         userID,
		TelegramStatus: status,
		Capabilities:   member.Capabilities,
	})
	if err != nil {
		s.markBestEffort(ctx, channelID, userID, err.Error())
		return domain.PermissionRecord{}, fmt.Errorf("сохранение записи: %w", err)
	}
	return rec, nil
}

func (s *Service) markBestEffort(ctx context.Context, channelID, userID int64, message string) {
	err := s.repo.MarkSyncError(ctx, userID, channelID, message)
	if err != nil && !errors.Is(err, domain.ErrPermissionNotFound) {
		s.log.Warn().Err(err).Int64("channel_id", channelID).Int64("user_id", userID).Msg("permission_sync: не удалось сохранить ошибку пользователя")
	}
}

// GetAccess возвращает права пользователя. Устаревшая запись сначала обновляется,
// при неудаче остаётся последняя известная.
func (s *Service) GetAccess(ctx context.Context, channelID, userID int64) (Access, error) {
	rec, err := s.repo.GetByChannelAndUser(ctx, channelID, userID)
	var refreshErr string
	switch {
	case errors.Is(err, domain.ErrPermissionNotFound):
		rec, err = s.SyncUser(ctx, channelID, userID)
		if err != nil {
			if !errors.Is(err, domain.ErrPermissionNotFound) {
				s.log.Warn().Err(err).Int64("channel_id", channelID).Int64("user_id", userID).Msg("permission_sync: не удалось получить права нового пользователя")
			}
			return Access{}, domain.ErrPermissionNotFound
		}
	case err != nil:
		return Access{}, fmt.Errorf("получение записи: %w", err)
	case rec.NeedsSync(s.now()):
		refreshed, syncErr := s.SyncUser(ctx, channelID, userID)
		switch {
		case syncErr == nil:
			rec = refreshed
		case errors.Is(syncErr, domain.ErrPermissionNotFound):
			return Access{}, domain.ErrPermissionNotFound
		default:
			refreshErr = syncErr.Error()
			s.log.Warn().Err(syncErr).Int64("channel_id", channelID).Int64("user_id", userID).Msg("permission_sync: обновление не удалось, используется последняя запись")
		}
	}

	access := Access{
		Permission:   rec,
		Capabilities: domain.EffectiveCapabilities(rec),
		RefreshError: refreshErr,
	}
	if rec.TelegramStatus == domain.TelegramStatusCreator {
		summary, err := s.repo.ChannelSummary(ctx, channelID)
		if err != nil {
			return Access{}, fmt.Errorf("сводка по каналу: %w", err)
		}
		access.Summary = &summary
	}
	return access, nil
}

// HasCapability проверяет право пользователя по последней известной записи.
func (s *Service) HasCapability(ctx context.Context, channelID, userID int64, capability domain.Capability) (bool, error) {
	rec, err := s.repo.GetByChannelAndUser(ctx, channelID, userID)
	if errors.Is(err, domain.ErrPermissionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return domain.EffectiveCapabilities(rec).Has(capability), nil
}

// RevokeAccess удаляет запись пользователя по решению создателя канала.
func (s *Service) RevokeAccess(ctx context.Context, channelID, actorID, targetID int64) error {
	if actorID == targetID {
		return domain.ErrSelfRevoke
	}
	actor, err := s.repo.GetByChannelAndUser(ctx, channelID, actorID)
	if errors.Is(err, domain.ErrPermissionNotFound) {
		return domain.ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("получение записи: %w", err)
	}
	if actor.TelegramStatus != domain.TelegramStatusCreator {
		return domain.ErrForbidden
	}

	unlock, err := s.lockChannel(ctx, channelID)
	if err != nil {
		return err
	}
	err = s.repo.Delete(ctx, targetID, channelID)
	unlock()
	if err != nil {
		return err
	}

	s.recordEvent(ctx, domain.BusinessMetric{
		Event:     domain.BusinessMetricEventPermissionRevoked,
		UserID:    &targetID,
		ChannelID: &channelID,
		Metadata:  map[string]any{"revoked_by": actorID},
	})
	s.log.Info().Int64("channel_id", channelID).Int64("user_id", targetID).Int64("revoked_by", actorID).Msg("permission_sync: доступ отозван")

	if s.notifier != nil {
		text := fmt.Sprintf("Ваш доступ к управлению каналом %d отозван создателем канала.", channelID)
		if err := s.notifier.Notify(ctx, targetID, text); err != nil {
			s.log.Warn().Err(err).Int64("user_id", targetID).Msg("permission_sync: не удалось отправить уведомление об отзыве")
		}
	}
	return nil
}
