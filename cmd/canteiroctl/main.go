package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/canteiro/internal/api"
	"github.com/matheus3301/canteiro/internal/session"
	grpcstatus "google.golang.org/grpc/status"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Commands that work without a running daemon.
	switch args[0] {
	case "init":
		cmdInit(sessionName, args[1:])
		return
	case "sessions":
		cmdSessions(args[1:], *jsonFlag)
		return
	case "start":
		cmdStart(sessionName)
		return
	case "stop":
		cmdStop(sessionName)
		return
	}

	socketPath := session.SocketPath(sessionName)
	if !alive(socketPath) {
		if args[0] == "status" {
			cmdOfflineStatus(sessionName, *jsonFlag)
			return
		}
		fmt.Fprintf(os.Stderr, "error: daemon for session %q is not running (try: canteiroctl start)\n", sessionName)
		os.Exit(1)
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// Streaming commands run until interrupted or the stream ends.
	switch args[0] {
	case "watch":
		cmdWatch(context.Background(), c)
		return
	case "auth":
		cmdAuth(context.Background(), c)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "list":
		cmdList(ctx, c, *jsonFlag)
	case "show":
		need(args, 2, "show <conversation>")
		cmdShow(ctx, c, args[1], *jsonFlag)
	case "send":
		need(args, 3, "send <conversation> <text>")
		cmdSend(ctx, c, args[1], args[2], *jsonFlag)
	case "resend":
		need(args, 3, "resend <conversation> <message>")
		cmdResend(ctx, c, args[1], args[2], *jsonFlag)
	case "discard":
		need(args, 3, "discard <conversation> <message>")
		check(c.Discard(ctx, args[1], args[2]))
		fmt.Println("Discarded.")
	case "delete":
		need(args, 2, "delete <conversation>")
		check(c.Delete(ctx, args[1]))
		fmt.Println("Deleted.")
	case "read":
		need(args, 2, "read <conversation>")
		check(c.MarkRead(ctx, args[1]))
		fmt.Println("Marked as read.")
	case "focus":
		id := ""
		if len(args) > 1 {
			id = args[1]
		}
		check(c.SetFocused(ctx, id))
	case "refresh":
		cmdRefresh(ctx, c, *jsonFlag)
	case "outbox":
		filter := ""
		if len(args) > 1 {
			filter = args[1]
		}
		cmdOutbox(ctx, c, filter, *jsonFlag)
	case "logout":
		check(c.Logout(ctx))
		fmt.Println("Logged out.")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: canteiroctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init [http|whatsapp]        Write a default session.toml")
	fmt.Fprintln(os.Stderr, "  sessions [list]             List known sessions")
	fmt.Fprintln(os.Stderr, "  sessions use <name>         Set the default session")
	fmt.Fprintln(os.Stderr, "  start                       Start the session daemon")
	fmt.Fprintln(os.Stderr, "  stop                        Stop the session daemon")
	fmt.Fprintln(os.Stderr, "  status                      Show session status")
	fmt.Fprintln(os.Stderr, "  list                        List conversations")
	fmt.Fprintln(os.Stderr, "  show <conv>                 Show a conversation")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>          Send a text message")
	fmt.Fprintln(os.Stderr, "  resend <conv> <msg>         Retry a failed message")
	fmt.Fprintln(os.Stderr, "  discard <conv> <msg>        Drop a failed message")
	fmt.Fprintln(os.Stderr, "  delete <conv>               Delete a conversation")
	fmt.Fprintln(os.Stderr, "  read <conv>                 Mark a conversation as read")
	fmt.Fprintln(os.Stderr, "  focus [conv]                Set or clear the focused conversation")
	fmt.Fprintln(os.Stderr, "  refresh                     Reload the full snapshot")
	fmt.Fprintln(os.Stderr, "  outbox [status]             List journaled sends")
	fmt.Fprintln(os.Stderr, "  watch                       Stream change notifications")
	fmt.Fprintln(os.Stderr, "  auth                        Pair a WhatsApp account by QR code")
	fmt.Fprintln(os.Stderr, "  logout                      Unpair the account")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: canteiroctl %s\n", usage)
		os.Exit(1)
	}
}

// check exits with the server's message when err is set.
func check(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	if st, ok := grpcstatus.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s (%s)\n", st.Message(), st.Code())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
