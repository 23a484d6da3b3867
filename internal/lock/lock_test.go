package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRecordsHolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions", "main")

	l, err := Acquire(dir, "http")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	h, held, err := Inspect(dir)
	if err != nil || !held {
		t.Fatalf("Inspect() = %v, %v, want held", held, err)
	}
	if h.PID != os.Getpid() || h.Transport != "http" || h.Since.IsZero() {
		t.Errorf("holder = %+v", h)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !errors.Is(err, os.ErrNotExist) {
		t.Error("lock file should be removed on release")
	}
	if _, held, _ := Inspect(dir); held {
		t.Error("lock still held after release")
	}
}

func TestSecondAcquireReportsHolder(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "whatsapp")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	_, err = Acquire(dir, "http")
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want LockHeldError", err)
	}
	if held.Holder.PID != os.Getpid() || held.Holder.Transport != "whatsapp" {
		t.Errorf("holder = %+v", held.Holder)
	}
}

// Regression: a lock file left behind by a crashed daemon must not read as
// held, and must not stop the next daemon.
func TestStaleFileIsFree(t *testing.T) {
	dir := t.TempDir()
	stale := Holder{PID: 1, Since: time.Now().Add(-time.Hour), Transport: "http"}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(stale.encode()), 0600); err != nil {
		t.Fatal(err)
	}
	if _, held, err := Inspect(dir); err != nil || held {
		t.Errorf("Inspect() on stale file = %v, %v, want free", held, err)
	}
	l, err := Acquire(dir, "http")
	if err != nil {
		t.Fatalf("Acquire() over stale file: %v", err)
	}
	_ = l.Release()
}

func TestHolderEncoding(t *testing.T) {
	in := Holder{PID: 4242, Since: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Transport: "whatsapp"}
	out := decodeHolder(in.encode())
	if out.PID != in.PID || !out.Since.Equal(in.Since) || out.Transport != in.Transport {
		t.Errorf("decode(encode(%+v)) = %+v", in, out)
	}
	if h := decodeHolder("garbage\npid=x\n"); h.PID != 0 {
		t.Errorf("garbage decoded to %+v", h)
	}
}

func TestReleaseNilAndTwice(t *testing.T) {
	var none *Lock
	if err := none.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
	l, err := Acquire(t.TempDir(), "http")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestWaitReleased(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "http")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := WaitReleased(ctx, dir); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReleased() while held = %v, want deadline exceeded", err)
	}

	time.AfterFunc(50*time.Millisecond, func() { _ = l.Release() })
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := WaitReleased(ctx2, dir); err != nil {
		t.Errorf("WaitReleased() = %v", err)
	}
}
