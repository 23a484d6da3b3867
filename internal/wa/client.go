package wa

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/canteiro/internal/remote"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

// Client serves the remote service operations over a WhatsApp connection.
type Client struct {
	conn   Conn
	chats  *Chats
	logger *zap.Logger
}

var _ remote.Client = (*Client)(nil)

// NewClient creates a WhatsApp backed remote client.
func NewClient(conn Conn, chats *Chats, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: conn, chats: chats, logger: logger}
}

func (c *Client) ready(op string) error {
	if !c.conn.IsLoggedIn() || !c.conn.IsConnected() {
		return &remote.Error{Kind: remote.KindServerUnavailable, Op: op, Message: "whatsapp client not ready"}
	}
	return nil
}

// FetchSnapshot returns every chat learned so far.
func (c *Client) FetchSnapshot(ctx context.Context) (map[string]remote.RawConversation, error) {
	if err := c.ready("fetch snapshot"); err != nil {
		return nil, err
	}
	return c.chats.Snapshot(), nil
}

// FetchUnreadCounts returns the unread count of each requested chat.
func (c *Client) FetchUnreadCounts(ctx context.Context, ids []string) (map[string]int, error) {
	if err := c.ready("fetch unread counts"); err != nil {
		return nil, err
	}
	return c.chats.Unread(ids), nil
}

// SendDelete deletes a chat on every linked device.
func (c *Client) SendDelete(ctx context.Context, id string) error {
	const op = "delete conversation"
	if err := c.ready(op); err != nil {
		return err
	}
	if !c.chats.Has(id) {
		return &remote.Error{Kind: remote.KindNotFound, Op: op, Message: "unknown chat " + id}
	}
	chat, err := parseChat(op, id)
	if err != nil {
		return err
	}

	var key *waCommon.MessageKey
	last, ok := c.chats.Last(id)
	if ok {
		key = &waCommon.MessageKey{
			RemoteJID: proto.String(id),
			FromMe:    proto.Bool(last.FromMe),
			ID:        proto.String(last.ID),
		}
		if last.Author != "" {
			key.Participant = proto.String(last.Author)
		}
	}
	if err := c.conn.DeleteChat(ctx, chat, last.Timestamp, key); err != nil {
		return mapError(op, err)
	}
	c.chats.Remove(id)
	return nil
}

// SendMarkRead sends read receipts for the unread inbound messages of a chat.
func (c *Client) SendMarkRead(ctx context.Context, id string) error {
	const op = "mark read"
	if err := c.ready(op); err != nil {
		return err
	}
	chat, err := parseChat(op, id)
	if err != nil {
		return err
	}

	// Receipts are grouped per sender; in direct chats the sender is the chat.
	bySender := make(map[string][]types.MessageID)
	for _, m := range c.chats.UnreadInbound(id) {
		sender := m.Author
		if sender == "" {
			sender = id
		}
		bySender[sender] = append(bySender[sender], m.ID)
	}
	for sender, ids := range bySender {
		senderJID, err := types.ParseJID(sender)
		if err != nil {
			c.logger.Warn("skipping receipts for unparseable sender", zap.String("sender", sender))
			continue
		}
		if err := c.conn.MarkRead(ctx, ids, chat, senderJID); err != nil {
			return mapError(op, err)
		}
	}
	c.chats.ResetUnread(id)
	return nil
}

// SendMessage sends a text message. The WhatsApp id is generated here and
// the client correlation id travels back in the ack.
func (c *Client) SendMessage(ctx context.Context, req remote.SendRequest) (remote.Ack, error) {
	const op = "send message"
	if err := c.ready(op); err != nil {
		return remote.Ack{}, err
	}
	if req.Media != nil {
		return remote.Ack{}, &remote.Error{Kind: remote.KindRejected, Op: op, Message: "attachments are not supported over whatsapp"}
	}
	chat, err := parseChat(op, req.ConversationID)
	if err != nil {
		return remote.Ack{}, err
	}

	resp, err := c.conn.SendText(ctx, chat, c.conn.NewMessageID(), req.Body)
	if err != nil {
		return remote.Ack{}, mapError(op, err)
	}
	c.chats.Put(remote.RawMessage{
		ID:          resp.ID,
		ClientMsgID: req.ClientMsgID,
		From:        Self,
		To:          req.ConversationID,
		Body:        req.Body,
		Timestamp:   resp.Timestamp,
		FromMe:      true,
		Status:      "server_ack",
	})
	return remote.Ack{MessageID: resp.ID, ClientMsgID: req.ClientMsgID, Timestamp: resp.Timestamp}, nil
}

// Status reports whether the WhatsApp connection is usable.
func (c *Client) Status(ctx context.Context) (remote.ServiceStatus, error) {
	switch {
	case !c.conn.IsLoggedIn():
		return remote.ServiceStatus{State: "logged_out"}, nil
	case !c.conn.IsConnected():
		return remote.ServiceStatus{State: "disconnected"}, nil
	}
	return remote.ServiceStatus{Connected: true, State: "connected"}, nil
}

func parseChat(op, id string) (types.JID, error) {
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.JID{}, &remote.Error{Kind: remote.KindRejected, Op: op, Message: fmt.Sprintf("invalid chat id %q", id), Err: err}
	}
	return jid, nil
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, whatsmeow.ErrNotConnected), errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return &remote.Error{Kind: remote.KindServerUnavailable, Op: op, Message: "whatsapp client not ready", Err: err}
	case errors.Is(err, whatsmeow.ErrIQTimedOut):
		return &remote.Error{Kind: remote.KindTransientTransport, Op: op, Err: err}
	}
	return remote.Classify(op, err)
}
