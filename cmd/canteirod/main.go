// Command canteirod is the per-session daemon. It owns the session lock,
// keeps the conversation view in sync with the remote service and serves it
// over a Unix socket.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/canteiro/internal/daemon"
	"github.com/matheus3301/canteiro/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "canteirod: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	sessionFlag := flag.String("session", "", "session name (overrides $CANTEIRO_SESSION and config default)")
	flag.Parse()

	name, err := session.Resolve(*sessionFlag)
	if err != nil {
		return err
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: name}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}
