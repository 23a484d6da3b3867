package wa

import (
	"context"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/remote"
	"go.mau.fi/whatsmeow"
)

type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent is one step of QR pairing as shown to the user.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// final reports whether pairing is over after e.
func (e AuthEvent) final() bool { return e.Type != AuthEventQRCode }

// StartQRAuth pairs this device by QR code. The channel yields a code each
// time whatsmeow rotates it and closes after the final event, or when ctx
// ends. A failed pairing is also published on b as an auth_failed lifecycle
// event; a successful one reaches the bus through whatsmeow's PairSuccess.
func (a *Adapter) StartQRAuth(ctx context.Context, b *bus.Bus) (<-chan AuthEvent, error) {
	items, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan AuthEvent, 4)

	go func() {
		defer close(out)
		emit := func(evt AuthEvent) bool {
			if evt.Type == AuthEventAuthFailed || evt.Type == AuthEventTimeout {
				b.Publish(bus.NewEvent(remote.LifecycleEvent{Type: remote.LifecycleAuthFailed, Reason: evt.Message}))
			}
			select {
			case out <- evt:
				return !evt.final()
			case <-ctx.Done():
				return false
			}
		}

		// whatsmeow only starts producing codes once connected.
		if err := a.Connect(); err != nil {
			emit(AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}
		for item := range items {
			evt, ok := authEventFor(item)
			if !ok {
				continue
			}
			if !emit(evt) {
				return
			}
		}
	}()
	return out, nil
}

// authEventFor translates a whatsmeow QR channel item. Items with no event
// report false.
func authEventFor(item whatsmeow.QRChannelItem) (AuthEvent, bool) {
	switch item.Event {
	case "":
		return AuthEvent{}, false
	case whatsmeow.QRChannelEventCode:
		return AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}, true
	case whatsmeow.QRChannelSuccess.Event:
		return AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, true
	case whatsmeow.QRChannelTimeout.Event:
		return AuthEvent{Type: AuthEventTimeout, Message: "QR code expired before it was scanned"}, true
	}
	msg := item.Event
	if item.Error != nil {
		msg = item.Error.Error()
	}
	return AuthEvent{Type: AuthEventAuthFailed, Message: msg}, true
}
