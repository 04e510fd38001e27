package repo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"tgeasy/internal/domain"
	"tgeasy/internal/infra/db"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TGEASY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TGEASY_TEST_PG_DSN is not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn, 2)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store := NewPostgres(pool)
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE channel_permissions, business_metrics`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return store
}

func TestPostgresPermissionLifecycle(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := start
	store.now = func() time.Time { return now }

	first, err := store.Upsert(ctx, adminInput(-100, 1, domain.CapabilitySet{PostMessages: true}))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := store.Create(ctx, adminInput(-100, 1, domain.CapabilitySet{})); !errors.Is(err, domain.ErrPermissionExists) {
		t.Fatalf("expected ErrPermissionExists, got %v", err)
	}
	if err := store.MarkSyncError(ctx, 1, -100, "boom"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	now = start.Add(time.Hour)
	second, err := store.Upsert(ctx, adminInput(-100, 1, domain.CapabilitySet{EditMessages: true}))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID || second.SyncError != nil || second.CanPostMessages || !second.CanEditMessages {
		t.Fatalf("unexpected upsert result: %+v", second)
	}

	yes := true
	updated, err := store.Update(ctx, -100, 1, domain.PermissionUpdate{CanInviteUsers: &yes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CanEditMessages || !updated.CanInviteUsers {
		t.Fatalf("partial update lost flags: %+v", updated)
	}

	if _, err := store.Upsert(ctx, domain.PermissionInput{ChannelID: -100, UserID: 2, TelegramStatus: domain.TelegramStatusCreator}); err != nil {
		t.Fatalf("upsert creator: %v", err)
	}
	records, err := store.ListForChannel(ctx, -100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := userIDs(records); !equalIDs(got, []int64{2, 1}) {
		t.Fatalf("creator must be first, got %v", got)
	}

	summary, err := store.ChannelSummary(ctx, -100)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 2 || summary.Creators != 1 || summary.NeedsSync {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	now = start.Add(26 * time.Hour)
	stale, err := store.FindNeedingSync(ctx, 10)
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected both records stale, got %v", userIDs(stale))
	}

	post := domain.CapabilityPostMessages
	withPost, err := store.FindByFilter(ctx, domain.PermissionFilter{Capability: &post})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if got := userIDs(withPost); !equalIDs(got, []int64{2}) {
		t.Fatalf("only creator has post rights, got %v", got)
	}

	if err := store.Delete(ctx, 1, -100); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetByChannelAndUser(ctx, -100, 1); !errors.Is(err, domain.ErrPermissionNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}

	channelID := int64(-100)
	if err := store.RecordBusinessMetric(ctx, domain.BusinessMetric{Event: domain.BusinessMetricEventPermissionRevoked, ChannelID: &channelID}); err != nil {
		t.Fatalf("business metric: %v", err)
	}
}
