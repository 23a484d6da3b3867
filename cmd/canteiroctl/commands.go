package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/canteiro/internal/api"
	"github.com/matheus3301/canteiro/internal/config"
	"github.com/matheus3301/canteiro/internal/lock"
	"github.com/matheus3301/canteiro/internal/session"
)

func cmdInit(sessionName string, args []string) {
	cfg := config.DefaultSessionConfig()
	if len(args) > 0 {
		cfg.Transport = args[0]
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	path := session.ConfigFile(sessionName)
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "error: %s already exists\n", path)
		os.Exit(1)
	}
	check(session.EnsureDir(sessionName))
	check(config.SaveSession(path, cfg))
	fmt.Printf("Wrote %s (transport %s)\n", path, cfg.Transport)
}

func cmdSessions(args []string, jsonOut bool) {
	if len(args) >= 2 && args[0] == "use" {
		if err := session.ValidateName(args[1]); err != nil {
			fatal(err)
		}
		check(config.SetDefaultSession(session.ConfigPath(), args[1]))
		fmt.Printf("Default session set to %q.\n", args[1])
		return
	}
	if len(args) > 0 && args[0] != "list" {
		fmt.Fprintln(os.Stderr, "usage: canteiroctl sessions [list | use <name>]")
		os.Exit(1)
	}

	names, err := session.List()
	check(err)
	type row struct {
		Name      string `json:"name"`
		Path      string `json:"path"`
		Running   bool   `json:"daemon_running"`
		Transport string `json:"transport,omitempty"`
	}
	rows := make([]row, 0, len(names))
	for _, name := range names {
		h, held, _ := lock.Inspect(session.Dir(name))
		rows = append(rows, row{Name: name, Path: session.Dir(name), Running: held, Transport: h.Transport})
	}
	if jsonOut {
		outputJSON(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, r := range rows {
		running := "stopped"
		if r.Running {
			running = "running, " + r.Transport
		}
		fmt.Printf("%-20s %s (%s)\n", r.Name, r.Path, running)
	}
}

// cmdOfflineStatus reports what the lock file knows when the socket does not answer.
func cmdOfflineStatus(sessionName string, jsonOut bool) {
	h, held, err := lock.Inspect(session.Dir(sessionName))
	check(err)
	if jsonOut {
		outputJSON(map[string]any{"session": sessionName, "daemon_running": held, "pid": h.PID, "transport": h.Transport})
		return
	}
	fmt.Printf("Session: %s\n", sessionName)
	if !held {
		fmt.Println("Daemon:  not running")
		return
	}
	fmt.Printf("Daemon:  PID %d (%s) since %s, not answering\n", h.PID, h.Transport, h.Since.Format(time.RFC3339))
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	check(err)
	f := st.AsMap()
	if jsonOut {
		outputJSON(f)
		return
	}
	fmt.Printf("Session:       %v\n", f["session"])
	fmt.Printf("Status:        %v (since %v)\n", f["status"], f["status_since"])
	fmt.Printf("Conversations: %v\n", f["conversations"])
	fmt.Printf("Version:       %v\n", f["version"])
	if focused, _ := f["focused"].(string); focused != "" {
		fmt.Printf("Focused:       %s\n", focused)
	}
	if phone, _ := f["phone_number"].(string); phone != "" {
		fmt.Printf("Phone:         %s\n", phone)
	}
	if ms, ok := f["uptime_ms"].(float64); ok {
		fmt.Printf("Uptime:        %s\n", (time.Duration(ms) * time.Millisecond).Round(time.Second))
	}
}

func cmdList(ctx context.Context, c *api.Client, jsonOut bool) {
	convs, err := c.List(ctx)
	check(err)
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, v := range convs {
		name := v.DisplayName
		if name == "" {
			name = v.ID
		}
		preview := ""
		if v.LastMessage != nil {
			preview = oneLine(v.LastMessage.Body, 40)
		}
		unread := ""
		if v.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", v.UnreadCount)
		}
		fmt.Printf("%-32s %-24s %5s  %s\n", v.ID, oneLine(name, 24), unread, preview)
	}
}

func cmdShow(ctx context.Context, c *api.Client, id string, jsonOut bool) {
	v, err := c.Get(ctx, id)
	check(err)
	if jsonOut {
		outputJSON(v)
		return
	}
	name := v.DisplayName
	if name == "" {
		name = v.ID
	}
	fmt.Printf("%s  [%s, %d unread]\n\n", name, v.ID, v.UnreadCount)
	for _, m := range v.Messages {
		printMessage(m)
	}
}

func printMessage(m api.MessageView) {
	who := m.Author
	if m.FromMe {
		who = "me"
	}
	state := m.Delivery
	switch {
	case m.Failed:
		state = "FAILED"
	case m.Provisional:
		state = "sending"
	}
	fmt.Printf("%s  %-16s %s", m.Timestamp.Local().Format("2006-01-02 15:04"), who, m.Body)
	if state != "" {
		fmt.Printf("  [%s]", state)
	}
	if m.Failed {
		fmt.Printf("  id=%s", m.ID)
	}
	fmt.Println()
}

func cmdSend(ctx context.Context, c *api.Client, id, text string, jsonOut bool) {
	m, err := c.Send(ctx, id, text)
	check(err)
	if jsonOut {
		outputJSON(m)
		return
	}
	fmt.Printf("Sent %s\n", m.ID)
}

func cmdResend(ctx context.Context, c *api.Client, convID, msgID string, jsonOut bool) {
	m, err := c.Resend(ctx, convID, msgID)
	check(err)
	if jsonOut {
		outputJSON(m)
		return
	}
	fmt.Printf("Resent as %s\n", m.ID)
}

func cmdRefresh(ctx context.Context, c *api.Client, jsonOut bool) {
	res, err := c.Refresh(ctx)
	check(err)
	f := res.AsMap()
	if jsonOut {
		outputJSON(f)
		return
	}
	if skipped, _ := f["skipped"].(bool); skipped {
		fmt.Println("A snapshot load is already running.")
		return
	}
	fmt.Printf("Snapshot loaded: %v applied, %v kept, %v dropped, %v removed in %vms\n",
		f["applied"], f["kept"], f["dropped"], f["removed"], f["duration_ms"])
}

func cmdOutbox(ctx context.Context, c *api.Client, filter string, jsonOut bool) {
	entries, err := c.ListOutbox(ctx, filter, 100)
	check(err)
	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, e.AsMap())
	}
	if jsonOut {
		outputJSON(rows)
		return
	}
	if len(rows) == 0 {
		fmt.Println("Outbox is empty.")
		return
	}
	for _, r := range rows {
		line := fmt.Sprintf("%-10v %-32v %s", r["status"], r["conversation_id"], oneLine(fmt.Sprint(r["body"]), 40))
		if e, _ := r["error"].(string); e != "" {
			line += "  (" + e + ")"
		}
		fmt.Println(line)
	}
}

func cmdWatch(ctx context.Context, c *api.Client) {
	stream, err := c.Watch(ctx)
	check(err)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		check(err)
		outputJSON(evt.AsMap())
	}
}

func cmdAuth(ctx context.Context, c *api.Client) {
	stream, err := c.StartAuth(ctx)
	check(err)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		check(err)
		f := evt.GetFields()
		switch f["event_type"].GetStringValue() {
		case "qr_code":
			code, err := renderQR(f["qr_code"].GetStringValue())
			check(err)
			fmt.Print("\033[H\033[2J")
			fmt.Printf("\n  Scan this QR code with WhatsApp:\n\n%s\n  Waiting for authentication...\n", code)
		case "authenticated":
			fmt.Println("Authenticated.")
			return
		default:
			fmt.Fprintf(os.Stderr, "auth %s: %s\n", f["event_type"].GetStringValue(), f["message"].GetStringValue())
			os.Exit(1)
		}
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
