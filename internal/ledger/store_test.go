package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/seeme-labs/tutor-bridge/internal/shared"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	store := NewStore(db, slog.Default())
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func TestStore_RecordStartAndEnd(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

	if err := store.RecordStart(ctx, "sess_1", "ctx_1", "hash_1", started); err != nil {
		t.Fatalf("record start: %v", err)
	}

	ended := started.Add(time.Minute)
	if err := store.RecordEnd(ctx, "sess_1", ended, "normal_completion", "es"); err != nil {
		t.Fatalf("record end: %v", err)
	}

	rec, err := store.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.EndReason != "normal_completion" {
		t.Errorf("expected normal_completion, got %q", rec.EndReason)
	}
	if rec.DetectedLanguage != "es" {
		t.Errorf("expected es, got %q", rec.DetectedLanguage)
	}
	if rec.EndedAt == nil {
		t.Fatalf("expected ended_at to be set")
	}
	if got := rec.Duration(); got != time.Minute {
		t.Errorf("expected 1m duration, got %v", got)
	}
}

func TestStore_RecordEnd_CreatesMissingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ended := time.Now().UTC().Truncate(time.Second)

	if err := store.RecordEnd(ctx, "sess_1", ended, "upstream_error", ""); err != nil {
		t.Fatalf("record end: %v", err)
	}

	rec, err := store.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.EndReason != "upstream_error" {
		t.Errorf("expected upstream_error, got %q", rec.EndReason)
	}
	if rec.EndedAt == nil {
		t.Errorf("expected ended_at to be set")
	}
}

func TestStore_RecordStart_AfterEndKeepsEndFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)

	if err := store.RecordEnd(ctx, "sess_1", started.Add(time.Second), "upstream_error", ""); err != nil {
		t.Fatalf("record end: %v", err)
	}
	if err := store.RecordStart(ctx, "sess_1", "ctx_1", "hash_1", started); err != nil {
		t.Fatalf("record start: %v", err)
	}

	rec, err := store.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.EndReason != "upstream_error" {
		t.Errorf("late start write should not clobber end reason, got %q", rec.EndReason)
	}
	if rec.ContextID != "ctx_1" || rec.ClientHash != "hash_1" {
		t.Errorf("expected start fields filled in, got %+v", rec)
	}
}

func TestStore_RecordEnd_KeepsLanguageWhenUnset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordStart(ctx, "sess_1", "ctx_1", "hash_1", time.Now()); err != nil {
		t.Fatalf("record start: %v", err)
	}
	if err := store.RecordEnd(ctx, "sess_1", time.Now(), "client_disconnect", ""); err != nil {
		t.Fatalf("record end: %v", err)
	}

	rec, err := store.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.DetectedLanguage != "" {
		t.Errorf("expected unset language, got %q", rec.DetectedLanguage)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "sess_none")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStore_RecentByContext(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"sess_a", "sess_b", "sess_c"} {
		if err := store.RecordStart(ctx, id, "ctx_1", "hash", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record start %s: %v", id, err)
		}
	}
	if err := store.RecordStart(ctx, "sess_other", "ctx_2", "hash", base); err != nil {
		t.Fatalf("record start: %v", err)
	}

	recs, err := store.RecentByContext(ctx, "ctx_1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].SessionID != "sess_c" {
		t.Errorf("expected newest first, got %s", recs[0].SessionID)
	}
}
