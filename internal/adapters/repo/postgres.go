package repo

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/metrics"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres реализует хранилище прав на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var (
	_ domain.PermissionRepo     = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

const permissionColumns = `id::text, channel_id, user_id, telegram_status, can_post_messages, can_edit_messages, can_delete_messages, can_change_info, can_invite_users, last_synced_at, sync_error, created_at, updated_at`

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, now: time.Now}
}

// Close закрывает пул подключений.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Migrate применяет встроенные SQL-миграции по порядку имён файлов.
func (p *Postgres) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		script, err := migrationFiles.ReadFile(name)
		if err != nil {
			return err
		}
		start := time.Now()
		_, err = p.pool.Exec(ctx, string(script))
		metrics.ObserveNetworkRequest("postgres", "migrate", name, start, err)
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func (p *Postgres) timestamp() time.Time {
	return p.now().UTC()
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = p.timestamp()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var userID sql.NullInt64
	if metric.UserID != nil {
		userID = sql.NullInt64{Int64: *metric.UserID, Valid: true}
	}
	var channelID sql.NullInt64
	if metric.ChannelID != nil {
		channelID = sql.NullInt64{Int64: *metric.ChannelID, Valid: true}
	}
	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, user_id, channel_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, userID, channelID, payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// Create вставляет новую запись о правах.
func (p *Postgres) Create(ctx context.Context, in domain.PermissionInput) (domain.PermissionRecord, error) {
	if err := validateInput(in); err != nil {
		return domain.PermissionRecord{}, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	now := p.timestamp()
	caps := in.Capabilities
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO channel_permissions (id, channel_id, user_id, telegram_status, can_post_messages, can_edit_messages, can_delete_messages, can_change_info, can_invite_users, last_synced_at, sync_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, $10, $10)
RETURNING `+permissionColumns,
		uuid.NewString(), in.ChannelID, in.UserID, string(in.TelegramStatus),
		caps.PostMessages, caps.EditMessages, caps.DeleteMessages, caps.ChangeInfo, caps.InviteUsers, now)
	rec, err := scanPermission(row)
	metrics.ObserveNetworkRequest("postgres", "permissions_create", "channel_permissions", start, err)
	if isUniqueViolation(err) {
		return domain.PermissionRecord{}, fmt.Errorf("channel %d user %d: %w", in.ChannelID, in.UserID, domain.ErrPermissionExists)
	}
	return rec, err
}

// Upsert создаёт или обновляет запись по паре канал/пользователь и сбрасывает ошибку синхронизации.
func (p *Postgres) Upsert(ctx context.Context, in domain.PermissionInput) (domain.PermissionRecord, error) {
	if err := validateInput(in); err != nil {
		return domain.PermissionRecord{}, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	now := p.timestamp()
	caps := in.Capabilities
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO channel_permissions (id, channel_id, user_id, telegram_status, can_post_messages, can_edit_messages, can_delete_messages, can_change_info, can_invite_users, last_synced_at, sync_error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, $10, $10)
ON CONFLICT (channel_id, user_id) DO UPDATE SET
    telegram_status = EXCLUDED.telegram_status,
    can_post_messages = EXCLUDED.can_post_messages,
    can_edit_messages = EXCLUDED.can_edit_messages,
    can_delete_messages = EXCLUDED.can_delete_messages,
    can_change_info = EXCLUDED.can_change_info,
    can_invite_users = EXCLUDED.can_invite_users,
    last_synced_at = EXCLUDED.last_synced_at,
    sync_error = NULL,
    updated_at = EXCLUDED.updated_at
RETURNING `+permissionColumns,
		uuid.NewString(), in.ChannelID, in.UserID, string(in.TelegramStatus),
		caps.PostMessages, caps.EditMessages, caps.DeleteMessages, caps.ChangeInfo, caps.InviteUsers, now)
	rec, err := scanPermission(row)
	metrics.ObserveNetworkRequest("postgres", "permissions_upsert", "channel_permissions", start, err)
	return rec, err
}

// Update частично обновляет запись. Отметка синхронизации обновляется вместе с данными.
func (p *Postgres) Update(ctx context.Context, channelID, userID int64, upd domain.PermissionUpdate) (domain.PermissionRecord, error) {
	if upd.TelegramStatus != nil && !upd.TelegramStatus.Valid() {
		return domain.PermissionRecord{}, fmt.Errorf("invalid telegram status %q", *upd.TelegramStatus)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var status sql.NullString
	if upd.TelegramStatus != nil {
		status = sql.NullString{String: string(*upd.TelegramStatus), Valid: true}
	}
	var syncError sql.NullString
	if upd.SyncError != nil {
		syncError = sql.NullString{String: *upd.SyncError, Valid: true}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE channel_permissions SET
    telegram_status = COALESCE($3, telegram_status),
    can_post_messages = COALESCE($4, can_post_messages),
    can_edit_messages = COALESCE($5, can_edit_messages),
    can_delete_messages = COALESCE($6, can_delete_messages),
    can_change_info = COALESCE($7, can_change_info),
    can_invite_users = COALESCE($8, can_invite_users),
    sync_error = CASE WHEN $10 THEN NULL ELSE COALESCE($9, sync_error) END,
    last_synced_at = $11,
    updated_at = $11
WHERE channel_id = $1 AND user_id = $2
RETURNING `+permissionColumns,
		channelID, userID, status,
		nullBool(upd.CanPostMessages), nullBool(upd.CanEditMessages), nullBool(upd.CanDeleteMessages),
		nullBool(upd.CanChangeInfo), nullBool(upd.CanInviteUsers),
		syncError, upd.ClearSyncError, p.timestamp())
	rec, err := scanPermission(row)
	metrics.ObserveNetworkRequest("postgres", "permissions_update", "channel_permissions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PermissionRecord{}, domain.ErrPermissionNotFound
	}
	return rec, err
}

// GetByChannelAndUser возвращает запись по паре канал/пользователь.
func (p *Postgres) GetByChannelAndUser(ctx context.Context, channelID, userID int64) (domain.PermissionRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM channel_permissions WHERE channel_id=$1 AND user_id=$2`, channelID, userID)
	rec, err := scanPermission(row)
	metrics.ObserveNetworkRequest("postgres", "permissions_get", "channel_permissions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PermissionRecord{}, domain.ErrPermissionNotFound
	}
	return rec, err
}

// ListForUser возвращает все каналы, где пользователь числится в администрации.
func (p *Postgres) ListForUser(ctx context.Context, userID int64) ([]domain.PermissionRecord, error) {
	return p.query(ctx, "permissions_list_user", `SELECT `+permissionColumns+` FROM channel_permissions WHERE user_id=$1 ORDER BY updated_at DESC`, userID)
}

// ListForChannel возвращает администрацию канала: сначала создатель, затем по свежести.
func (p *Postgres) ListForChannel(ctx context.Context, channelID int64) ([]domain.PermissionRecord, error) {
	return p.query(ctx, "permissions_list_channel", `
SELECT `+permissionColumns+` FROM channel_permissions
WHERE channel_id=$1
ORDER BY CASE WHEN telegram_status='creator' THEN 0 ELSE 1 END, updated_at DESC`, channelID)
}

// FindByFilter возвращает записи, подходящие под фильтр.
func (p *Postgres) FindByFilter(ctx context.Context, filter domain.PermissionFilter) ([]domain.PermissionRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ChannelID != nil {
		add("channel_id=$%d", *filter.ChannelID)
	}
	if filter.UserID != nil {
		add("user_id=$%d", *filter.UserID)
	}
	if filter.Status != nil {
		add("telegram_status=$%d", string(*filter.Status))
	}
	if filter.Capability != nil {
		column, ok := capabilityColumns[*filter.Capability]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", *filter.Capability)
		}
		// Создатель обладает всеми правами независимо от флагов.
		conds = append(conds, fmt.Sprintf("(%s OR telegram_status='creator')", column))
	}
	if filter.SyncedAfter != nil {
		add("last_synced_at > $%d", filter.SyncedAfter.UTC())
	}
	if filter.HasSyncError != nil {
		if *filter.HasSyncError {
			conds = append(conds, "sync_error IS NOT NULL")
		} else {
			conds = append(conds, "sync_error IS NULL")
		}
	}

	query := `SELECT ` + permissionColumns + ` FROM channel_permissions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY channel_id, user_id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return p.query(ctx, "permissions_find", query, args...)
}

// Delete удаляет запись. Отсутствие записи возвращает ErrPermissionNotFound.
func (p *Postgres) Delete(ctx context.Context, userID, channelID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM channel_permissions WHERE channel_id=$1 AND user_id=$2`, channelID, userID)
	metrics.ObserveNetworkRequest("postgres", "permissions_delete", "channel_permissions", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPermissionNotFound
	}
	return nil
}

// FindNeedingSync возвращает записи с ошибкой или старше окна свежести, самые старые первыми.
func (p *Postgres) FindNeedingSync(ctx context.Context, limit int) ([]domain.PermissionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return p.query(ctx, "permissions_find_stale", `
SELECT `+permissionColumns+` FROM channel_permissions
WHERE sync_error IS NOT NULL OR last_synced_at <= $1
ORDER BY last_synced_at ASC
LIMIT $2`, staleCutoff(p.timestamp()), limit)
}

// ChannelSummary агрегирует состояние прав по каналу.
func (p *Postgres) ChannelSummary(ctx context.Context, channelID int64) (domain.ChannelSummary, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	summary := domain.ChannelSummary{ChannelID: channelID}
	var lastSynced sql.NullTime
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT
    COUNT(*) FILTER (WHERE telegram_status='creator'),
    COUNT(*) FILTER (WHERE telegram_status='administrator'),
    COUNT(*),
    COUNT(*) FILTER (WHERE sync_error IS NOT NULL),
    COUNT(*) FILTER (WHERE sync_error IS NOT NULL OR last_synced_at <= $2),
    MAX(last_synced_at)
FROM channel_permissions WHERE channel_id=$1
`, channelID, staleCutoff(p.timestamp())).Scan(&summary.Creators, &summary.Administrators, &summary.Total, &summary.ErrorCount, &summary.StaleCount, &lastSynced)
	metrics.ObserveNetworkRequest("postgres", "permissions_summary", "channel_permissions", start, err)
	if err != nil {
		return domain.ChannelSummary{}, err
	}
	if lastSynced.Valid {
		ts := lastSynced.Time
		summary.LastSyncedAt = &ts
	}
	return finishSummary(summary), nil
}

// MarkSyncError сохраняет ошибку синхронизации, не трогая последние известные права.
func (p *Postgres) MarkSyncError(ctx context.Context, userID, channelID int64, message string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE channel_permissions SET sync_error=$3, updated_at=$4 WHERE channel_id=$1 AND user_id=$2`,
		channelID, userID, message, p.timestamp())
	metrics.ObserveNetworkRequest("postgres", "permissions_mark_error", "channel_permissions", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPermissionNotFound
	}
	return nil
}

func (p *Postgres) query(ctx context.Context, op, query string, args ...any) ([]domain.PermissionRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", op, "channel_permissions", start, err)
		return nil, err
	}
	defer rows.Close()

	var out []domain.PermissionRecord
	for rows.Next() {
		rec, err := scanPermission(rows)
		if err != nil {
			metrics.ObserveNetworkRequest("postgres", op, "channel_permissions", start, err)
			return nil, err
		}
		out = append(out, rec)
	}
	err = rows.Err()
	metrics.ObserveNetworkRequest("postgres", op, "channel_permissions", start, err)
	return out, err
}

func scanPermission(row pgx.Row) (domain.PermissionRecord, error) {
	var (
		rec       domain.PermissionRecord
		status    string
		syncError sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.ChannelID, &rec.UserID, &status,
		&rec.CanPostMessages, &rec.CanEditMessages, &rec.CanDeleteMessages, &rec.CanChangeInfo, &rec.CanInviteUsers,
		&rec.LastSyncedAt, &syncError, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.PermissionRecord{}, err
	}
	rec.TelegramStatus = domain.TelegramStatus(status)
	if syncError.Valid {
		msg := syncError.String
		rec.SyncError = &msg
	}
	return rec, nil
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
