package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

type permissionRow struct {
	ID                string    `gorm:"primaryKey;size:36"`
	ChannelID         int64     `gorm:"not null;uniqueIndex:channel_permissions_channel_user_key,priority:1"`
	UserID            int64     `gorm:"not null;uniqueIndex:channel_permissions_channel_user_key,priority:2;index"`
	TelegramStatus    string    `gorm:"not null;size:32"`
	CanPostMessages   bool      `gorm:"not null"`
	CanEditMessages   bool      `gorm:"not null"`
	CanDeleteMessages bool      `gorm:"not null"`
	CanChangeInfo     bool      `gorm:"not null"`
	CanInviteUsers    bool      `gorm:"not null"`
	LastSyncedAt      time.Time `gorm:"not null;index"`
	SyncError         *string
	CreatedAt         time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt         time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (permissionRow) TableName() string { return "channel_permissions" }

func (r permissionRow) record() domain.PermissionRecord {
	return domain.PermissionRecord{
		ID:                r.ID,
		ChannelID:         r.ChannelID,
		UserID:            r.UserID,
		TelegramStatus:    domain.TelegramStatus(r.TelegramStatus),
		CanPostMessages:   r.CanPostMessages,
		CanEditMessages:   r.CanEditMessages,
		CanDeleteMessages: r.CanDeleteMessages,
		CanChangeInfo:     r.CanChangeInfo,
		CanInviteUsers:    r.CanInviteUsers,
		LastSyncedAt:      r.LastSyncedAt,
		SyncError:         r.SyncError,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type businessMetricRow struct {
	ID         uint   `gorm:"primaryKey"`
	Event      string `gorm:"not null;index:business_metrics_event_idx,priority:1"`
	UserID     *int64
	ChannelID  *int64
	Metadata   *string
	OccurredAt time.Time `gorm:"not null;index:business_metrics_event_idx,priority:2"`
}

func (businessMetricRow) TableName() string { return "business_metrics" }

// Gorm реализует хранилище прав поверх gorm. Используется с SQLite для локального запуска и тестов.
type Gorm struct {
	db  *gorm.DB
	now func() time.Time
}

var (
	_ domain.PermissionRepo     = (*Gorm)(nil)
	_ domain.BusinessMetricRepo = (*Gorm)(nil)
)

// NewGorm создаёт хранилище.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db, now: time.Now}
}

// Migrate создаёт таблицы channel_permissions и business_metrics.
func (g *Gorm) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&permissionRow{}, &businessMetricRow{})
}

// Close закрывает соединение с БД.
func (g *Gorm) Close() {
	if sqlDB, err := g.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (g *Gorm) timestamp() time.Time {
	return g.now().UTC()
}

func observeGorm(op string, start time.Time, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = nil
	}
	metrics.ObserveNetworkRequest("sqlite", op, "channel_permissions", start, err)
}

// RecordBusinessMetric сохраняет бизнесовую метрику.
func (g *Gorm) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	row := businessMetricRow{
		Event:      metric.Event,
		UserID:     metric.UserID,
		ChannelID:  metric.ChannelID,
		OccurredAt: metric.OccurredAt.UTC(),
	}
	if metric.OccurredAt.IsZero() {
		row.OccurredAt = g.timestamp()
	}
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload := string(data)
			row.Metadata = &payload
		}
	}
	start := time.Now()
	err := g.db.WithContext(ctx).Create(&row).Error
	metrics.ObserveNetworkRequest("sqlite", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// Create вставляет новую запись о правах.
func (g *Gorm) Create(ctx context.Context, in domain.PermissionInput) (domain.PermissionRecord, error) {
	if err := validateInput(in); err != nil {
		return domain.PermissionRecord{}, err
	}
	row := g.newRow(in)
	start := time.Now()
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&permissionRow{}).Where("channel_id = ? AND user_id = ?", in.ChannelID, in.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("channel %d user %d: %w", in.ChannelID, in.UserID, domain.ErrPermissionExists)
		}
		return tx.Create(&row).Error
	})
	observeGorm("permissions_create", start, err)
	if err != nil {
		return domain.PermissionRecord{}, err
	}
	return row.record(), nil
}

// Upsert создаёт или обновляет запись по паре канал/пользователь и сбрасывает ошибку синхронизации.
func (g *Gorm) Upsert(ctx context.Context, in domain.PermissionInput) (domain.PermissionRecord, error) {
	if err := validateInput(in); err != nil {
		return domain.PermissionRecord{}, err
	}
	row := g.newRow(in)
	var stored permissionRow
	start := time.Now()
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"telegram_status",
				"can_post_messages",
				"can_edit_messages",
				"can_delete_messages",
				"can_change_info",
				"can_invite_users",
				"last_synced_at",
				"sync_error",
				"updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Where("channel_id = ? AND user_id = ?", in.ChannelID, in.UserID).First(&stored).Error
	})
	observeGorm("permissions_upsert", start, err)
	if err != nil {
		return domain.PermissionRecord{}, err
	}
	return stored.record(), nil
}

// Update частично обновляет запись. Отметка синхронизации обновляется вместе с данными.
func (g *Gorm) Update(ctx context.Context, channelID, userID int64, upd domain.PermissionUpdate) (domain.PermissionRecord, error) {
	if upd.TelegramStatus != nil && !upd.TelegramStatus.Valid() {
		return domain.PermissionRecord{}, fmt.Errorf("invalid telegram status %q", *upd.TelegramStatus)
	}
	now := g.timestamp()
	values := map[string]any{
		"last_synced_at": now,
		"updated_at":     now,
	}
	if upd.TelegramStatus != nil {
		values["telegram_status"] = string(*upd.TelegramStatus)
	}
	setBool := func(column string, v *bool) {
		if v != nil {
			values[column] = *v
		}
	}
	setBool("can_post_messages", upd.CanPostMessages)
	setBool("can_edit_messages", upd.CanEditMessages)
	setBool("can_delete_messages", upd.CanDeleteMessages)
	setBool("can_change_info", upd.CanChangeInfo)
	setBool("can_invite_users", upd.CanInviteUsers)
	switch {
	case upd.ClearSyncError:
		values["sync_error"] = nil
	case upd.SyncError != nil:
		values["sync_error"] = *upd.SyncError
	}

	var stored permissionRow
	start := time.Now()
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&permissionRow{}).Where("channel_id = ? AND user_id = ?", channelID, userID).Updates(values)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrPermissionNotFound
		}
		return tx.Where("channel_id = ? AND user_id = ?", channelID, userID).First(&stored).Error
	})
	observeGorm("permissions_update", start, err)
	if err != nil {
		return domain.PermissionRecord{}, err
	}
	return stored.record(), nil
}

// GetByChannelAndUser возвращает запись по паре канал/пользователь.
func (g *Gorm) GetByChannelAndUser(ctx context.Context, channelID, userID int64) (domain.PermissionRecord, error) {
	var row permissionRow
	start := time.Now()
	err := g.db.WithContext(ctx).Where("channel_id = ? AND user_id = ?", channelID, userID).First(&row).Error
	observeGorm("permissions_get", start, err)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PermissionRecord{}, domain.ErrPermissionNotFound
	}
	if err != nil {
		return domain.PermissionRecord{}, err
	}
	return row.record(), nil
}

// ListForUser возвращает все каналы, где пользователь числится в администрации.
func (g *Gorm) ListForUser(ctx context.Context, userID int64) ([]domain.PermissionRecord, error) {
	return g.find("permissions_list_user", g.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC"))
}

// ListForChannel возвращает администрацию канала: сначала создатель, затем по свежести.
func (g *Gorm) ListForChannel(ctx context.Context, channelID int64) ([]domain.PermissionRecord, error) {
	q := g.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("CASE WHEN telegram_status = 'creator' THEN 0 ELSE 1 END").
		Order("updated_at DESC")
	return g.find("permissions_list_channel", q)
}

// FindByFilter возвращает записи, подходящие под фильтр.
func (g *Gorm) FindByFilter(ctx context.Context, filter domain.PermissionFilter) ([]domain.PermissionRecord, error) {
	q := g.db.WithContext(ctx)
	if filter.ChannelID != nil {
		q = q.Where("channel_id = ?", *filter.ChannelID)
	}
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		q = q.Where("telegram_status = ?", string(*filter.Status))
	}
	if filter.Capability != nil {
		column, ok := capabilityColumns[*filter.Capability]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", *filter.Capability)
		}
		q = q.Where(fmt.Sprintf("(%s = ? OR telegram_status = ?)", column), true, string(domain.TelegramStatusCreator))
	}
	if filter.SyncedAfter != nil {
		q = q.Where("last_synced_at > ?", filter.SyncedAfter.UTC())
	}
	if filter.HasSyncError != nil {
		if *filter.HasSyncError {
			q = q.Where("sync_error IS NOT NULL")
		} else {
			q = q.Where("sync_error IS NULL")
		}
	}
	q = q.Order("channel_id").Order("user_id")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	return g.find("permissions_find", q)
}

// Delete удаляет запись. Отсутствие записи возвращает ErrPermissionNotFound.
func (g *Gorm) Delete(ctx context.Context, userID, channelID int64) error {
	start := time.Now()
	res := g.db.WithContext(ctx).Where("channel_id = ? AND user_id = ?", channelID, userID).Delete(&permissionRow{})
	observeGorm("permissions_delete", start, res.Error)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPermissionNotFound
	}
	return nil
}

// FindNeedingSync возвращает записи с ошибкой или старше окна свежести, самые старые первыми.
func (g *Gorm) FindNeedingSync(ctx context.Context, limit int) ([]domain.PermissionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := g.db.WithContext(ctx).
		Where("sync_error IS NOT NULL OR last_synced_at <= ?", staleCutoff(g.timestamp())).
		Order("last_synced_at ASC").
		Limit(limit)
	return g.find("permissions_find_stale", q)
}

// ChannelSummary агрегирует состояние прав по каналу.
func (g *Gorm) ChannelSummary(ctx context.Context, channelID int64) (domain.ChannelSummary, error) {
	records, err := g.find("permissions_summary", g.db.WithContext(ctx).Where("channel_id = ?", channelID))
	if err != nil {
		return domain.ChannelSummary{}, err
	}
	return summarize(channelID, records, g.timestamp()), nil
}

// MarkSyncError сохраняет ошибку синхронизации, не трогая последние известные права.
func (g *Gorm) MarkSyncError(ctx context.Context, userID, channelID int64, message string) error {
	start := time.Now()
	res := g.db.WithContext(ctx).Model(&permissionRow{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Updates(map[string]any{"sync_error": message, "updated_at": g.timestamp()})
	observeGorm("permissions_mark_error", start, res.Error)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPermissionNotFound
	}
	return nil
}

func (g *Gorm) newRow(in domain.PermissionInput) permissionRow {
	now := g.timestamp()
	caps := in.Capabilities
	return permissionRow{
		ID:                uuid.NewString(),
		ChannelID:         in.ChannelID,
		UserID:            in.UserID,
		TelegramStatus:    string(in.TelegramStatus),
		CanPostMessages:   caps.PostMessages,
		CanEditMessages:   caps.EditMessages,
		CanDeleteMessages: caps.DeleteMessages,
		CanChangeInfo:     caps.ChangeInfo,
		CanInviteUsers:    caps.InviteUsers,
		LastSyncedAt:      now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (g *Gorm) find(op string, q *gorm.DB) ([]domain.PermissionRecord, error) {
	var rows []permissionRow
	start := time.Now()
	err := q.Find(&rows).Error
	observeGorm(op, start, err)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PermissionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}
