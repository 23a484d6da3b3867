package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matheus3301/canteiro/internal/api"
	"github.com/matheus3301/canteiro/internal/lock"
	"github.com/matheus3301/canteiro/internal/session"
)

const (
	startTimeout = 10 * time.Second
	stopTimeout  = 15 * time.Second
)

func cmdStart(name string) {
	if alive(session.SocketPath(name)) {
		fmt.Printf("Daemon for session %q is already running.\n", name)
		return
	}
	if h, held, _ := lock.Inspect(session.Dir(name)); held {
		fatal(fmt.Errorf("session %q is locked by PID %d but its socket does not answer", name, h.PID))
	}
	check(spawnDaemon(name))

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := waitAlive(ctx, session.SocketPath(name)); err != nil {
		fatal(fmt.Errorf("daemon did not come up, see %s", session.LogPath(name)))
	}
	fmt.Println("Daemon started.")
}

// cmdStop signals the lock holder and waits for it to let go of the lock.
func cmdStop(name string) {
	h, held, err := lock.Inspect(session.Dir(name))
	check(err)
	if !held {
		fmt.Printf("Daemon for session %q is not running.\n", name)
		return
	}
	proc, err := os.FindProcess(h.PID)
	check(err)
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		fatal(fmt.Errorf("signal PID %d: %w", h.PID, err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := lock.WaitReleased(ctx, session.Dir(name)); err != nil {
		fatal(fmt.Errorf("PID %d still holds the session: %w", h.PID, err))
	}
	fmt.Println("Daemon stopped.")
}

// alive reports whether a daemon answers a Status call on socketPath.
func alive(socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

func waitAlive(ctx context.Context, socketPath string) error {
	for !alive(socketPath) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return nil
}

// spawnDaemon starts canteirod in its own session so it outlives this
// command and the terminal. The canteirod installed next to canteiroctl
// wins over one on $PATH.
func spawnDaemon(name string) error {
	bin := "canteirod"
	if self, err := os.Executable(); err == nil {
		if sibling := filepath.Join(filepath.Dir(self), bin); fileExists(sibling) {
			bin = sibling
		}
	}
	cmd := exec.Command(bin, "--session", name)
	// Startup failures happen before the daemon log is open.
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	return cmd.Process.Release()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
