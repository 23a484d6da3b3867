package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/retry"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 8 << 20

// Stream reads JSON push frames from a websocket endpoint.
type Stream struct {
	url     string
	token   string
	bus     *bus.Bus
	backoff *retry.Policy
	logger  *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStream creates a websocket push source.
func NewStream(url, token string, b *bus.Bus, backoff *retry.Policy, logger *zap.Logger) *Stream {
	return &Stream{url: url, token: token, bus: b, backoff: backoff, logger: logger}
}

// Start connects in the background and keeps reconnecting until Stop.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop closes the connection and waits for the reader to exit.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Stream) run(ctx context.Context) {
	connected := false
	attempt := 0
	for {
		err := s.session(ctx, func() {
			// Anything pushed while we were away is lost; ask for a full reload.
			if connected {
				publish(s.bus, remote.ResyncEvent{Reason: "push stream reconnected"})
			}
			connected = true
			attempt = 0
			s.logger.Info("push stream connected", zap.String("url", s.url))
		})
		if ctx.Err() != nil {
			return
		}
		attempt++
		if !waitRetry(ctx, s.backoff, attempt, s.logger, err) {
			return
		}
	}
}

func (s *Stream) session(ctx context.Context, onConnect func()) error {
	opts := &websocket.DialOptions{}
	if s.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + s.token}}
	}
	conn, _, err := websocket.Dial(ctx, s.url, opts)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(readLimit)
	onConnect()

	for {
		var frame json.RawMessage
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return err
		}
		if _, err := dispatch(s.bus, frame); err != nil {
			s.logger.Warn("dropping undecodable push frame", zap.Error(err))
		}
	}
}
