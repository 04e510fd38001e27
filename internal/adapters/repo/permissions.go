package repo

import (
	"fmt"
	"time"

	"tgeasy/internal/domain"
)

// capabilityColumns сопоставляет право с колонкой таблицы channel_permissions.
var capabilityColumns = map[domain.Capability]string{
	domain.CapabilityPostMessages:   "can_post_messages",
	domain.CapabilityEditMessages:   "can_edit_messages",
	domain.CapabilityDeleteMessages: "can_delete_messages",
	domain.CapabilityChangeInfo:     "can_change_info",
	domain.CapabilityInviteUsers:    "can_invite_users",
}

func validateInput(in domain.PermissionInput) error {
	if !in.TelegramStatus.Valid() {
		return fmt.Errorf("invalid telegram status %q", in.TelegramStatus)
	}
	if in.ChannelID == 0 || in.UserID == 0 {
		return fmt.Errorf("channel and user ids are required")
	}
	return nil
}

func staleCutoff(now time.Time) time.Time {
	return now.Add(-domain.StalenessWindow)
}

func finishSummary(summary domain.ChannelSummary) domain.ChannelSummary {
	summary.NeedsSync = summary.Total == 0 || summary.StaleCount > 0
	return summary
}

func summarize(channelID int64, records []domain.PermissionRecord, now time.Time) domain.ChannelSummary {
	summary := domain.ChannelSummary{ChannelID: channelID}
	for _, rec := range records {
		summary.Total++
		switch rec.TelegramStatus {
		case domain.TelegramStatusCreator:
			summary.Creators++
		case domain.TelegramStatusAdministrator:
			summary.Administrators++
		}
		if rec.SyncError != nil {
			summary.ErrorCount++
		}
		if rec.NeedsSync(now) {
			summary.StaleCount++
		}
		if summary.LastSyncedAt == nil || rec.LastSyncedAt.After(*summary.LastSyncedAt) {
			ts := rec.LastSyncedAt
			summary.LastSyncedAt = &ts
		}
	}
	return finishSummary(summary)
}
