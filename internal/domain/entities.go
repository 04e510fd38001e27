package domain

import "time"

// StalenessWindow задаёт возраст записи, после которого она требует повторной синхронизации.
const StalenessWindow = 24 * time.Hour

// PermissionRecord хранит сверенные права пользователя в канале.
type PermissionRecord struct {
	ID                string         `json:"id"`
	ChannelID         int64          `json:"channel_id"`
	UserID            int64          `json:"user_id"`
	TelegramStatus    TelegramStatus `json:"telegram_status"`
	CanPostMessages   bool           `json:"can_post_messages"`
	CanEditMessages   bool           `json:"can_edit_messages"`
	CanDeleteMessages bool           `json:"can_delete_messages"`
	CanChangeInfo     bool           `json:"can_change_info"`
	CanInviteUsers    bool           `json:"can_invite_users"`
	LastSyncedAt      time.Time      `json:"last_synced_at"`
	SyncError         *string        `json:"sync_error"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NeedsSync сообщает, нужно ли обновить запись: есть ошибка или она старше StalenessWindow.
func (r PermissionRecord) NeedsSync(now time.Time) bool {
	if r.SyncError != nil {
		return true
	}
	return !now.Before(r.LastSyncedAt.Add(StalenessWindow))
}

// Flags возвращает сохранённые флаги без учёта статуса.
func (r PermissionRecord) Flags() CapabilitySet {
	return CapabilitySet{
		PostMessages:   r.CanPostMessages,
		EditMessages:   r.CanEditMessages,
		DeleteMessages: r.CanDeleteMessages,
		ChangeInfo:     r.CanChangeInfo,
		InviteUsers:    r.CanInviteUsers,
	}
}

// PermissionInput описывает данные для создания или upsert записи.
type PermissionInput struct {
	ChannelID      int64
	UserID         int64
	TelegramStatus TelegramStatus
	Capabilities   CapabilitySet
}

// PermissionUpdate описывает частичное обновление записи. nil-поля не меняются.
type PermissionUpdate struct {
	TelegramStatus    *TelegramStatus
	CanPostMessages   *bool
	CanEditMessages   *bool
	CanDeleteMessages *bool
	CanChangeInfo     *bool
	CanInviteUsers    *bool
	SyncError         *string
	ClearSyncError    bool
}

// PermissionFilter задаёт условия выборки в FindByFilter. Нулевые значения не фильтруют.
type PermissionFilter struct {
	ChannelID    *int64
	UserID       *int64
	Status       *TelegramStatus
	Capability   *Capability
	SyncedAfter  *time.Time
	HasSyncError *bool
	Limit        int
}

// ChannelSummary агрегирует состояние прав по каналу.
type ChannelSummary struct {
	ChannelID      int64      `json:"channel_id"`
	Creators       int        `json:"creators"`
	Administrators int        `json:"administrators"`
	Total          int        `json:"total"`
	ErrorCount     int        `json:"error_count"`
	StaleCount     int        `json:"stale_count"`
	LastSyncedAt   *time.Time `json:"last_synced_at"`
	NeedsSync      bool       `json:"needs_sync"`
}

// ChatMember описывает участника чата в том виде, в каком его вернула платформа.
type ChatMember struct {
	UserID       int64
	Username     string
	IsBot        bool
	Status       MemberStatus
	Capabilities CapabilitySet
	// Partial выставляется, если платформа не вернула флаги прав администратора.
	Partial bool
}

// UserSyncError описывает ошибку синхронизации конкретного пользователя.
type UserSyncError struct {
	UserID int64  `json:"user_id"`
	Error  string `json:"error"`
}

// SyncResult — итог одного прохода синхронизации канала.
type SyncResult struct {
	ChannelID int64           `json:"channel_id"`
	Synced    []int64         `json:"synced_permissions"`
	Removed   []int64         `json:"removed_permissions"`
	Errors    []UserSyncError `json:"errors,omitempty"`
	Skipped   bool            `json:"skipped"`
	SyncedAt  time.Time       `json:"synced_at"`
}
