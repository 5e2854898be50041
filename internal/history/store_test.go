package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gisbridge/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := ApplyMigrations(ctx, store.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return store
}

func recordForTest(id string, kind model.CommandKind, requestedAt time.Time) model.CommandRecord {
	completed := requestedAt.Add(5 * time.Millisecond)
	return model.CommandRecord{
		CommandID:   id,
		Kind:        kind,
		ParamsJSON:  `{"cmd":"g.version"}`,
		ResultCode:  model.ResultOK,
		RequestedAt: requestedAt,
		CompletedAt: &completed,
		DurationMS:  5,
	}
}

func TestInsertAndListRecent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"c1", "c2", "c3"} {
		rec := recordForTest(id, model.CommandRunModule, base.Add(time.Duration(i)*time.Second))
		if err := store.InsertCommand(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	records, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].CommandID != "c3" || records[1].CommandID != "c2" {
		t.Fatalf("expected newest first, got %s, %s", records[0].CommandID, records[1].CommandID)
	}
	if !records[0].RequestedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("timestamp did not round-trip: %v", records[0].RequestedAt)
	}
	if records[0].CompletedAt == nil {
		t.Fatalf("completed_at lost in round trip")
	}
}

func TestGetCommand(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	exit := 1
	rec := recordForTest("c1", model.CommandRunModule, time.Now().UTC())
	rec.ResultCode = model.ResultFailed
	rec.ExitCode = &exit
	if err := store.InsertCommand(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetCommand(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ResultCode != model.ResultFailed || got.ExitCode == nil || *got.ExitCode != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := store.GetCommand(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPurgeBefore(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	now := time.Now().UTC()
	if err := store.InsertCommand(ctx, recordForTest("old", model.CommandQuit, now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if err := store.InsertCommand(ctx, recordForTest("new", model.CommandQuit, now)); err != nil {
		t.Fatalf("insert new: %v", err)
	}

	if err := store.PurgeBefore(ctx, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("purge: %v", err)
	}
	records, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].CommandID != "new" {
		t.Fatalf("purge kept the wrong records: %+v", records)
	}
}

func TestInsertRejectsMissingCommandID(t *testing.T) {
	store := openTestStore(t)
	rec := recordForTest("", model.CommandQuit, time.Now().UTC())
	if err := store.InsertCommand(context.Background(), rec); err == nil {
		t.Fatalf("expected rejection for empty command_id")
	}
}

func TestInsertRejectsUnknownResultCode(t *testing.T) {
	store := openTestStore(t)
	rec := recordForTest("c1", model.CommandQuit, time.Now().UTC())
	rec.ResultCode = "exploded"
	if err := store.InsertCommand(context.Background(), rec); err == nil {
		t.Fatalf("expected CHECK constraint rejection")
	}
}
