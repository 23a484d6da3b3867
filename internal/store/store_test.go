package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateFreshThenNoop(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	first, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if first.From != 0 || first.To != 1 || !first.Changed() {
		t.Errorf("first Migrate() = %+v, want 0 -> 1", first)
	}

	second, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if second.Changed() || second.To != 1 {
		t.Errorf("second Migrate() = %+v, want no change at 1", second)
	}
}

func TestOpenReportsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("local-1", "bob", "hello"); err != nil {
		t.Fatal(err)
	}
	// Queuing the same provisional id twice (a resend) keeps one row.
	if err := db.QueueOutbox("local-1", "bob", "hello"); err != nil {
		t.Fatal(err)
	}
	queued, err := db.ListOutbox(OutboxQueued, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 1 || queued[0].ConversationID != "bob" {
		t.Fatalf("queued = %+v", queued)
	}

	if err := db.MarkOutboxSending("local-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("local-1", "connection reset"); err != nil {
		t.Fatal(err)
	}
	failed, _ := db.ListOutbox(OutboxFailed, 0)
	if len(failed) != 1 || failed[0].ErrorMessage != "connection reset" {
		t.Fatalf("failed = %+v", failed)
	}

	if err := db.MarkOutboxSent("local-1", "srv-9"); err != nil {
		t.Fatal(err)
	}
	all, _ := db.ListOutbox("", 0)
	if len(all) != 1 || all[0].Status != OutboxSent || all[0].ServerMsgID != "srv-9" {
		t.Errorf("entries = %+v", all)
	}
	if all[0].ErrorMessage != "connection reset" {
		t.Errorf("error message should be kept for the audit trail, got %q", all[0].ErrorMessage)
	}
}

func TestPendingDeletes(t *testing.T) {
	db := testDB(t)

	if err := db.AddPendingDelete("alice", "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := db.AddPendingDelete("bob", "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchPendingDelete("alice", "still down"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingDeletes()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	for _, p := range pending {
		if p.ConversationID == "alice" && (p.Attempts != 1 || p.LastError != "still down") {
			t.Errorf("alice = %+v", p)
		}
	}

	if err := db.ResolvePendingDelete("alice"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingDeletes()
	if len(pending) != 1 || pending[0].ConversationID != "bob" {
		t.Errorf("pending = %+v", pending)
	}

	if err := db.ClearPendingDeletes(); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingDeletes()
	if len(pending) != 0 {
		t.Errorf("pending after clear = %d", len(pending))
	}
}

// Re-journaling a delete must not reset its attempt count.
func TestAddPendingDeleteKeepsAttempts(t *testing.T) {
	db := testDB(t)
	_ = db.AddPendingDelete("alice", "timeout")
	_ = db.TouchPendingDelete("alice", "x")
	_ = db.AddPendingDelete("alice", "timeout again")

	pending, _ := db.PendingDeletes()
	if len(pending) != 1 || pending[0].Attempts != 1 || pending[0].Cause != "timeout again" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestFailInterruptedOutbox(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"local-q", "local-s", "local-ok"} {
		if err := db.QueueOutbox(id, "bob", "hi"); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkOutboxSending("local-s"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("local-ok", "srv-1"); err != nil {
		t.Fatal(err)
	}

	n, err := db.FailInterruptedOutbox(time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("interrupted = %d, want 2", n)
	}
	failed, err := db.ListOutbox(OutboxFailed, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 || failed[0].ErrorMessage != "interrupted by restart" {
		t.Errorf("failed entries = %+v", failed)
	}

	// Entries touched after the cutoff belong to this run.
	if err := db.QueueOutbox("local-new", "bob", "later"); err != nil {
		t.Fatal(err)
	}
	if n, _ := db.FailInterruptedOutbox(time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("fresh entries interrupted = %d, want 0", n)
	}
}

func TestPruneOutbox(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"local-sent", "local-gone", "local-failed"} {
		if err := db.QueueOutbox(id, "bob", "hi"); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.MarkOutboxSent("local-sent", "srv-1")
	_ = db.DiscardOutbox("local-gone")
	_ = db.MarkOutboxFailed("local-failed", "boom")

	if n, _ := db.PruneOutbox(time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("pruned recent entries = %d, want 0", n)
	}
	n, err := db.PruneOutbox(time.Now().Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
	// Failed sends wait for the user.
	left, _ := db.ListOutbox("", 0)
	if len(left) != 1 || left[0].ClientMsgID != "local-failed" {
		t.Errorf("remaining = %+v", left)
	}
}
