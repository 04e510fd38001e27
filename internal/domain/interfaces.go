package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionNotFound возвращается, когда записи о правах нет.
	ErrPermissionNotFound = errors.New("permission not found")
	// ErrSyncFailed возвращается, когда не удалось получить список администраторов.
	ErrSyncFailed = errors.New("permission sync failed")
	// ErrPlatformTimeout возвращается, когда истёк дедлайн обращения к платформе.
	ErrPlatformTimeout = errors.New("platform request timed out")
	// ErrForbidden возвращается, когда у пользователя нет прав на действие.
	ErrForbidden = errors.New("forbidden")
	// ErrSelfRevoke возвращается при попытке отозвать доступ у самого себя.
	ErrSelfRevoke = errors.New("cannot revoke own access")
	// ErrLockNotAcquired возвращается, когда блокировку канала не удалось взять.
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrPermissionExists возвращается при повторном создании записи для той же пары канал/пользователь.
	ErrPermissionExists = errors.New("permission already exists")
)

// PermissionRepo хранит записи о правах в каналах.
type PermissionRepo interface {
	Create(ctx context.Context, in PermissionInput) (PermissionRecord, error)
	Update(ctx context.Context, channelID, userID int64, upd PermissionUpdate) (PermissionRecord, error)
	Upsert(ctx context.Context, in PermissionInput) (PermissionRecord, error)
	GetByChannelAndUser(ctx context.Context, channelID, userID int64) (PermissionRecord, error)
	ListForUser(ctx context.Context, userID int64) ([]PermissionRecord, error)
	ListForChannel(ctx context.Context, channelID int64) ([]PermissionRecord, error)
	FindByFilter(ctx context.Context, filter PermissionFilter) ([]PermissionRecord, error)
	Delete(ctx context.Context, userID, channelID int64) error
	FindNeedingSync(ctx context.Context, limit int) ([]PermissionRecord, error)
	ChannelSummary(ctx context.Context, channelID int64) (ChannelSummary, error)
	MarkSyncError(ctx context.Context, userID, channelID int64, message string) error
}

// ChatAdminSource отдаёт сведения об администрации чата на платформе.
type ChatAdminSource interface {
	GetChatAdministrators(ctx context.Context, chatID int64) ([]ChatMember, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (ChatMember, error)
}

// Notifier отправляет пользователю текстовое уведомление.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// Locker сериализует работу с каналом между процессами.
type Locker interface {
	// Lock берёт блокировку по ключу и возвращает функцию освобождения.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
