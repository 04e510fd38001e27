package domain

import (
	"testing"
	"time"
)

func TestEffectiveCapabilities(t *testing.T) {
	tests := []struct {
		name   string
		record PermissionRecord
		want   CapabilitySet
	}{
		{
			name:   "creator with narrow flags",
			record: PermissionRecord{TelegramStatus: TelegramStatusCreator},
			want:   FullCapabilities(),
		},
		{
			name: "administrator keeps raw flags",
			record: PermissionRecord{
				TelegramStatus:  TelegramStatusAdministrator,
				CanPostMessages: true,
				CanInviteUsers:  true,
			},
			want: CapabilitySet{PostMessages: true, InviteUsers: true},
		},
		{
			name:   "administrator without flags",
			record: PermissionRecord{TelegramStatus: TelegramStatusAdministrator},
			want:   CapabilitySet{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveCapabilities(tt.record); got != tt.want {
				t.Fatalf("EffectiveCapabilities() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCreatorHasEveryCapability(t *testing.T) {
	record := PermissionRecord{TelegramStatus: TelegramStatusCreator, CanPostMessages: false}
	caps := EffectiveCapabilities(record)
	for _, c := range AllCapabilities {
		if !caps.Has(c) {
			t.Fatalf("creator should have %s", c)
		}
	}
}

func TestNeedsSync(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := "boom"
	tests := []struct {
		name   string
		record PermissionRecord
		want   bool
	}{
		{name: "synced hour ago", record: PermissionRecord{LastSyncedAt: now.Add(-time.Hour)}, want: false},
		{name: "synced 25 hours ago", record: PermissionRecord{LastSyncedAt: now.Add(-25 * time.Hour)}, want: true},
		{name: "exactly at window", record: PermissionRecord{LastSyncedAt: now.Add(-StalenessWindow)}, want: true},
		{name: "fresh with error", record: PermissionRecord{LastSyncedAt: now, SyncError: &msg}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.NeedsSync(now); got != tt.want {
				t.Fatalf("NeedsSync() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTelegramStatusFromMember(t *testing.T) {
	cases := map[MemberStatus]bool{
		MemberStatusCreator:       true,
		MemberStatusAdministrator: true,
		MemberStatusMember:        false,
		MemberStatusRestricted:    false,
		MemberStatusLeft:          false,
		MemberStatusKicked:        false,
	}
	for status, ok := range cases {
		if _, got := TelegramStatusFromMember(status); got != ok {
			t.Fatalf("TelegramStatusFromMember(%s) ok = %v, want %v", status, got, ok)
		}
	}
}

func TestParseCapability(t *testing.T) {
	if c, ok := ParseCapability(" CAN_POST_MESSAGES "); !ok || c != CapabilityPostMessages {
		t.Fatalf("ожидали can_post_messages, получили %q %v", c, ok)
	}
	if _, ok := ParseCapability("can_fly"); ok {
		t.Fatal("ожидали ошибку для неизвестного права")
	}
}
