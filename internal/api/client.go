package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client of the Conversations service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns conversation summaries, most recent activity first.
func (c *Client) List(ctx context.Context) ([]ConversationView, error) {
	out, err := c.call(ctx, MethodList, nil)
	if err != nil {
		return nil, err
	}
	var convs []ConversationView
	for _, v := range out.GetFields()["conversations"].GetListValue().GetValues() {
		convs = append(convs, decodeConversation(v.GetStructValue()))
	}
	return convs, nil
}

// Get returns one conversation with its messages.
func (c *Client) Get(ctx context.Context, id string) (ConversationView, error) {
	out, err := c.call(ctx, MethodGet, map[string]any{"id": id})
	if err != nil {
		return ConversationView{}, err
	}
	return decodeConversation(out.GetFields()["conversation"].GetStructValue()), nil
}

// Send sends a text message and returns the (possibly provisional) record.
func (c *Client) Send(ctx context.Context, conversationID, body string) (MessageView, error) {
	out, err := c.call(ctx, MethodSend, map[string]any{"conversation_id": conversationID, "body": body})
	if err != nil {
		return MessageView{}, err
	}
	return decodeMessage(out.GetFields()["message"].GetStructValue()), nil
}

// Resend retries a failed message.
func (c *Client) Resend(ctx context.Context, conversationID, messageID string) (MessageView, error) {
	out, err := c.call(ctx, MethodResend, map[string]any{"conversation_id": conversationID, "message_id": messageID})
	if err != nil {
		return MessageView{}, err
	}
	return decodeMessage(out.GetFields()["message"].GetStructValue()), nil
}

// Discard drops a failed message.
func (c *Client) Discard(ctx context.Context, conversationID, messageID string) error {
	_, err := c.call(ctx, MethodDiscard, map[string]any{"conversation_id": conversationID, "message_id": messageID})
	return err
}

// Delete deletes a conversation.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.call(ctx, MethodDelete, map[string]any{"id": id})
	return err
}

// MarkRead marks a conversation read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	_, err := c.call(ctx, MethodMarkRead, map[string]any{"id": id})
	return err
}

// SetFocused sets the conversation being viewed. An empty id clears it.
func (c *Client) SetFocused(ctx context.Context, id string) error {
	_, err := c.call(ctx, MethodSetFocused, map[string]any{"id": id})
	return err
}

// Refresh reloads the snapshot and returns the load summary.
func (c *Client) Refresh(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, MethodRefresh, nil)
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	return c.call(ctx, MethodGetStatus, nil)
}

// ListOutbox returns journaled sends, optionally filtered by status.
func (c *Client) ListOutbox(ctx context.Context, status string, limit int) ([]*structpb.Struct, error) {
	out, err := c.call(ctx, MethodListOutbox, map[string]any{"status": status, "limit": limit})
	if err != nil {
		return nil, err
	}
	var entries []*structpb.Struct
	for _, v := range out.GetFields()["entries"].GetListValue().GetValues() {
		entries = append(entries, v.GetStructValue())
	}
	return entries, nil
}

// Logout unpairs the account.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.call(ctx, MethodLogout, nil)
	return err
}

// Stream is a server stream of Struct messages.
type Stream struct {
	cs grpc.ClientStream
}

// Recv blocks for the next message. io.EOF marks the end of the stream.
func (s *Stream) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.cs.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) stream(ctx context.Context, idx int) (*Stream, error) {
	desc := &ServiceDesc.Streams[idx]
	cs, err := c.conn.NewStream(ctx, desc, "/"+ServiceName+"/"+desc.StreamName)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&structpb.Struct{}); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

// Watch subscribes to change notifications.
func (c *Client) Watch(ctx context.Context) (*Stream, error) {
	return c.stream(ctx, 0)
}

// StartAuth starts QR pairing and streams its events.
func (c *Client) StartAuth(ctx context.Context) (*Stream, error) {
	return c.stream(ctx, 1)
}
