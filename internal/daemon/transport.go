package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/config"
	"github.com/matheus3301/canteiro/internal/push"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"github.com/matheus3301/canteiro/internal/session"
	"github.com/matheus3301/canteiro/internal/wa"
	"go.uber.org/zap"
)

// Transport is the remote service a session talks to and the channel its
// push events arrive on.
type Transport struct {
	Client remote.Client

	// Push is nil for the whatsapp transport and for push kind "none".
	Push push.Source

	// Adapter and Handler are only set for the whatsapp transport.
	Adapter *wa.Adapter
	Handler *wa.EventHandler
}

// Start begins receiving push events.
func (t *Transport) Start(ctx context.Context) {
	if t.Handler != nil {
		t.Adapter.RegisterEventHandler(t.Handler.Handle)
	}
	if t.Push != nil {
		t.Push.Start(ctx)
	}
}

// Stop stops receiving push events and drops the connection.
func (t *Transport) Stop() {
	if t.Push != nil {
		t.Push.Stop()
	}
	if t.Adapter != nil {
		t.Adapter.Disconnect()
	}
}

func provideTransport(p Params, cfg config.SessionConfig, b *bus.Bus, logger *zap.Logger) (*Transport, error) {
	switch cfg.Transport {
	case config.TransportWhatsApp:
		adapter, err := wa.NewAdapter(context.Background(), p.file("device.db", session.DeviceDBPath), logger)
		if err != nil {
			return nil, err
		}
		chats := wa.NewChats()
		return &Transport{
			Client:  wa.NewClient(adapter, chats, logger),
			Adapter: adapter,
			Handler: wa.NewEventHandler(b, chats, adapter, logger),
		}, nil
	case config.TransportHTTP:
		t := &Transport{
			Client: remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout.Duration, logger),
		}
		backoff := retry.New(push.ReconnectBackoff, logger)
		switch cfg.Push.Kind {
		case config.PushWebSocket:
			t.Push = push.NewStream(cfg.StreamURL(), cfg.Remote.Token, b, backoff, logger)
		case config.PushAMQP:
			t.Push = push.NewConsumer(push.AMQPOptions{
				URL:         cfg.Push.URL,
				Exchange:    cfg.Push.AMQPExchange,
				Queue:       cfg.Push.AMQPQueue,
				BindingKeys: cfg.Push.AMQPBindings,
			}, b, backoff, logger)
		case config.PushNone:
			logger.Info("push disabled, relying on periodic snapshots")
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
