package wa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrAlreadyPaired is returned when pairing is requested for a device that
// already has credentials.
var ErrAlreadyPaired = errors.New("device is already paired")

// Conn is the part of the WhatsApp connection the transport client drives.
// Tests substitute a fake.
type Conn interface {
	IsConnected() bool
	IsLoggedIn() bool
	NewMessageID() types.MessageID
	SendText(ctx context.Context, to types.JID, id types.MessageID, text string) (whatsmeow.SendResponse, error)
	MarkRead(ctx context.Context, ids []types.MessageID, chat, sender types.JID) error
	DeleteChat(ctx context.Context, chat types.JID, last time.Time, key *waCommon.MessageKey) error
}

// Adapter owns the whatsmeow client and its device store (device.db). It is
// the only code in the daemon that talks to whatsmeow directly.
type Adapter struct {
	wm     *whatsmeow.Client
	logger *zap.Logger
}

var _ Conn = (*Adapter)(nil)

// NewAdapter opens the device store at dbPath and builds a client for its
// first device. A fresh store yields an unpaired device.
func NewAdapter(ctx context.Context, dbPath string, logger *zap.Logger) (*Adapter, error) {
	logger = logger.Named("wa")
	// Name shown in the phone's linked devices list.
	wastore.SetOSInfo("Canteiro", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+dbPath+"?_foreign_keys=on", newZapLog(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open device store %s: %w", dbPath, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return &Adapter{
		wm:     whatsmeow.NewClient(device, newZapLog(logger, "client")),
		logger: logger,
	}, nil
}

// IsLoggedIn reports whether the device store holds credentials.
func (a *Adapter) IsLoggedIn() bool { return a.wm.Store.ID != nil }

// IsConnected reports whether the websocket to WhatsApp is up.
func (a *Adapter) IsConnected() bool { return a.wm.IsConnected() }

// PhoneNumber is the paired account's number, or "" before pairing.
func (a *Adapter) PhoneNumber() string {
	if id := a.wm.Store.ID; id != nil {
		return id.User
	}
	return ""
}

func (a *Adapter) Connect() error {
	a.logger.Info("connecting", zap.Bool("paired", a.IsLoggedIn()))
	return a.wm.Connect()
}

func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting")
	a.wm.Disconnect()
}

// Logout unlinks this device on the phone and wipes the local credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.wm.Logout(ctx)
}

// RegisterEventHandler subscribes handler to every whatsmeow event.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.wm.AddEventHandler(handler)
}

// GetQRChannel starts QR pairing. It must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, ErrAlreadyPaired
	}
	ch, err := a.wm.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

func (a *Adapter) NewMessageID() types.MessageID {
	return a.wm.GenerateMessageID()
}

// SendText sends a plain text message under a caller-chosen id, so the echo
// of the send can be matched to its provisional message.
func (a *Adapter) SendText(ctx context.Context, to types.JID, id types.MessageID, text string) (whatsmeow.SendResponse, error) {
	msg := &waE2E.Message{Conversation: proto.String(text)}
	return a.wm.SendMessage(ctx, to, msg, whatsmeow.SendRequestExtra{ID: id})
}

func (a *Adapter) MarkRead(ctx context.Context, ids []types.MessageID, chat, sender types.JID) error {
	return a.wm.MarkRead(ctx, ids, time.Now(), chat, sender)
}

// DeleteChat removes chat on every linked device through an app state patch.
func (a *Adapter) DeleteChat(ctx context.Context, chat types.JID, last time.Time, key *waCommon.MessageKey) error {
	return a.wm.SendAppState(ctx, appstate.BuildDeleteChat(chat, last, key, true))
}

// ContactNames maps normalized JIDs to the best name the device store knows:
// the address book name, else the contact's own push name.
func (a *Adapter) ContactNames(ctx context.Context) map[string]string {
	all, err := a.wm.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("reading contacts failed", zap.Error(err))
		return nil
	}
	names := make(map[string]string, len(all))
	for jid, info := range all {
		for _, n := range []string{info.FullName, info.FirstName, info.PushName, info.BusinessName} {
			if n != "" {
				names[NormalizeJID(jid)] = n
				break
			}
		}
	}
	return names
}

// ResolveLID maps a hidden-user (LID) address to the phone number JID behind
// it. Anything else, or an unknown LID, comes back unchanged.
func (a *Adapter) ResolveLID(ctx context.Context, jid types.JID) types.JID {
	switch jid.Server {
	case types.HiddenUserServer, types.HostedLIDServer:
	default:
		return jid
	}
	if a.wm.Store == nil || a.wm.Store.LIDs == nil {
		return jid
	}
	if pn, err := a.wm.Store.LIDs.GetPNForLID(ctx, jid); err == nil && !pn.IsEmpty() {
		return pn
	}
	return jid
}
