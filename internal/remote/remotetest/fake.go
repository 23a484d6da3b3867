// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/canteiro/internal/remote"
)

// Client is a scriptable fake. Queued errors are returned one per call; once
// a queue is empty calls succeed.
type Client struct {
	mu sync.Mutex

	snapshot     map[string]remote.RawConversation
	snapshotErrs []error
	// OnSnapshot runs inside FetchSnapshot before it returns.
	OnSnapshot func()

	unread     map[string]int
	unreadErrs []error

	// OnDelete runs inside SendDelete before it returns.
	OnDelete func(id string)

	deleteErrs   []error
	markReadErrs []error
	sendErrs     []error
	status       remote.ServiceStatus
	statusErr    error

	calls    map[string]int
	deleted  []string
	marked   []string
	sent     []remote.SendRequest
	unreadQs [][]string
	nextID   int
}

// New returns an empty fake reporting a connected service.
func New() *Client {
	return &Client{
		snapshot: map[string]remote.RawConversation{},
		unread:   map[string]int{},
		status:   remote.ServiceStatus{Connected: true, State: "CONNECTED"},
		calls:    map[string]int{},
	}
}

// Transient returns a retryable transport error.
func Transient(op string) error {
	return &remote.Error{Kind: remote.KindTransientTransport, Op: op, Err: fmt.Errorf("connection reset")}
}

// NotFound returns the error a remote gives for an unknown id.
func NotFound(op string) error {
	return &remote.Error{Kind: remote.KindNotFound, Op: op, StatusCode: 404}
}

// Rejected returns a non-retryable rejection.
func Rejected(op, msg string) error {
	return &remote.Error{Kind: remote.KindRejected, Op: op, StatusCode: 400, Message: msg}
}

func (c *Client) SetSnapshot(s map[string]remote.RawConversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = s
}

func (c *Client) SetUnread(id string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread[id] = n
}

func (c *Client) SetStatus(st remote.ServiceStatus, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status, c.statusErr = st, err
}

func (c *Client) FailSnapshot(errs ...error) { c.queue(&c.snapshotErrs, errs) }
func (c *Client) FailUnread(errs ...error)   { c.queue(&c.unreadErrs, errs) }
func (c *Client) FailDelete(errs ...error)   { c.queue(&c.deleteErrs, errs) }
func (c *Client) FailMarkRead(errs ...error) { c.queue(&c.markReadErrs, errs) }
func (c *Client) FailSend(errs ...error)     { c.queue(&c.sendErrs, errs) }

func (c *Client) queue(q *[]error, errs []error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*q = append(*q, errs...)
}

func pop(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

// Calls returns how often op ("snapshot", "unread", "delete", "mark_read",
// "send", "status") was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Deleted returns the ids passed to successful and failed SendDelete calls.
func (c *Client) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// MarkedRead returns the ids passed to SendMarkRead.
func (c *Client) MarkedRead() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.marked...)
}

// Sent returns every send request.
func (c *Client) Sent() []remote.SendRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]remote.SendRequest(nil), c.sent...)
}

// UnreadQueries returns the id lists passed to FetchUnreadCounts.
func (c *Client) UnreadQueries() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.unreadQs...)
}

func (c *Client) FetchSnapshot(ctx context.Context) (map[string]remote.RawConversation, error) {
	c.mu.Lock()
	c.calls["snapshot"]++
	hook := c.OnSnapshot
	err := pop(&c.snapshotErrs)
	out := make(map[string]remote.RawConversation, len(c.snapshot))
	for k, v := range c.snapshot {
		out[k] = v
	}
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchUnreadCounts(ctx context.Context, ids []string) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["unread"]++
	c.unreadQs = append(c.unreadQs, append([]string(nil), ids...))
	if err := pop(&c.unreadErrs); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		out[id] = c.unread[id]
	}
	return out, nil
}

func (c *Client) SendDelete(ctx context.Context, id string) error {
	c.mu.Lock()
	c.calls["delete"]++
	c.deleted = append(c.deleted, id)
	hook := c.OnDelete
	err := pop(&c.deleteErrs)
	if err == nil {
		delete(c.snapshot, id)
	}
	c.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return err
}

func (c *Client) SendMarkRead(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["mark_read"]++
	c.marked = append(c.marked, id)
	if err := pop(&c.markReadErrs); err != nil {
		return err
	}
	c.unread[id] = 0
	return nil
}

func (c *Client) SendMessage(ctx context.Context, req remote.SendRequest) (remote.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["send"]++
	c.sent = append(c.sent, req)
	if err := pop(&c.sendErrs); err != nil {
		return remote.Ack{}, err
	}
	c.nextID++
	return remote.Ack{
		MessageID:   fmt.Sprintf("srv-%d", c.nextID),
		ClientMsgID: req.ClientMsgID,
		Timestamp:   time.Now(),
	}, nil
}

func (c *Client) Status(ctx context.Context) (remote.ServiceStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls["status"]++
	return c.status, c.statusErr
}

var _ remote.Client = (*Client)(nil)
