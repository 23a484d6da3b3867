// Package lock guarantees a single daemon per session through an advisory
// flock on sessions/<name>/LOCK. The file also records who holds it, so
// clients can report on a daemon that is not answering its socket.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a session directory.
const FileName = "LOCK"

// LockHeldError is returned by Acquire when another daemon owns the session.
type LockHeldError struct {
	Holder Holder
	Path   string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session is owned by PID %d (%s) since %s, see %s",
		e.Holder.PID, e.Holder.Transport, e.Holder.Since.Format(time.RFC3339), e.Path)
}

// Holder is what the lock file says about its owner.
type Holder struct {
	PID       int
	Since     time.Time
	Transport string
}

func (h Holder) encode() string {
	return fmt.Sprintf("pid=%d\ntime=%s\ntransport=%s\n", h.PID, h.Since.UTC().Format(time.RFC3339), h.Transport)
}

func decodeHolder(content string) Holder {
	var h Holder
	for line := range strings.SplitSeq(content, "\n") {
		key, value, _ := strings.Cut(line, "=")
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, value)
		case "transport":
			h.Transport = value
		}
	}
	return h
}

// Lock is a held session lock. The flock lives as long as file is open.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the session lock of dir for this process, creating dir if
// needed. It fails with *LockHeldError when another process has it.
func Acquire(dir, transport string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if !tryLock(f) {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &LockHeldError{Holder: decodeHolder(string(data)), Path: path}
	}

	me := Holder{PID: os.Getpid(), Since: time.Now(), Transport: transport}
	if err := f.Truncate(0); err == nil {
		_, err = f.WriteAt([]byte(me.encode()), 0)
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("record lock holder: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the file. It is safe on a nil or
// already released Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Removing first means no one reads a released holder as current.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Inspect reports who holds the lock of dir without keeping it. A lock
// file nobody holds, as a crashed daemon leaves behind, reads as free.
func Inspect(dir string) (h Holder, held bool, err error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if tryLock(f) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, false, err
	}
	return decodeHolder(string(data)), true, nil
}

// WaitReleased polls until nobody holds the lock of dir or ctx ends.
func WaitReleased(ctx context.Context, dir string) error {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, held, err := Inspect(dir); err != nil || !held {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func tryLock(f *os.File) bool {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) == nil
}
