package api

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/mutation"
	"github.com/matheus3301/canteiro/internal/remote"
	"github.com/matheus3301/canteiro/internal/remote/remotetest"
	"github.com/matheus3301/canteiro/internal/retry"
	"github.com/matheus3301/canteiro/internal/status"
	"github.com/matheus3301/canteiro/internal/store"
	intsync "github.com/matheus3301/canteiro/internal/sync"
	"github.com/matheus3301/canteiro/internal/wa"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fixture struct {
	client *Client
	store  *conversation.Store
	remote *remotetest.Client
	db     *store.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "canteiro-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, err := store.Open(filepath.Join(tmpDir, "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	st := conversation.NewStore(b, conversation.Options{})
	rc := remotetest.New()
	fast := retry.Options{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	policy := retry.New(fast, logger)
	loader := intsync.NewSnapshotLoader(st, rc, policy, nil, nil, logger)
	coord := mutation.NewCoordinator(st, rc, policy, retry.NewCritical(fast, logger), loader, db, mutation.Options{}, logger)
	t.Cleanup(coord.Stop)

	srv := grpc.NewServer()
	Register(srv, NewService("test", st, coord, machine, b, db, nil))

	socketPath := filepath.Join(tmpDir, "d.sock")
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{client: client, store: st, remote: rc, db: db}
}

func (f *fixture) seed(id string, at time.Time) {
	f.store.AddMessage(id, conversation.Message{ID: id + "-m1", Body: "hi " + id, Timestamp: at})
	f.remote.SetSnapshot(map[string]remote.RawConversation{
		id: {ID: id, Messages: []remote.RawMessage{{ID: id + "-m1", From: id, Body: "hi " + id, Timestamp: at}}},
	})
}

func codeOf(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.seed("alice", now.Add(-time.Hour))
	f.seed("bob", now)

	convs, err := f.client.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "bob" {
		t.Fatalf("List = %+v, want bob first", convs)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.Body != "hi bob" {
		t.Errorf("last message = %+v", convs[0].LastMessage)
	}
	if len(convs[0].Messages) != 0 {
		t.Error("List should not carry message history")
	}

	conv, err := f.client.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].ID != "alice-m1" {
		t.Errorf("Get = %+v", conv)
	}

	if _, err := f.client.Get(ctx, "nobody"); codeOf(err) != codes.NotFound {
		t.Errorf("Get missing code = %v, want NotFound", codeOf(err))
	}
}

func TestSendOverGRPC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed("alice", time.Now())

	msg, err := f.client.Send(ctx, "alice", "hello there")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Body != "hello there" || !msg.FromMe {
		t.Errorf("message = %+v", msg)
	}
	sent := f.remote.Sent()
	if len(sent) != 1 || sent[0].ConversationID != "alice" {
		t.Fatalf("remote sends = %+v", sent)
	}
	if !conversation.IsProvisionalID(sent[0].ClientMsgID) {
		t.Errorf("client_msg_id = %q, want provisional id", sent[0].ClientMsgID)
	}

	_, err = f.client.Send(ctx, "alice", "   ")
	if codeOf(err) != codes.InvalidArgument {
		t.Errorf("empty send code = %v, want InvalidArgument", codeOf(err))
	}
}

func TestDeleteErrorsAreTranslated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed("alice", time.Now())
	f.remote.FailDelete(remotetest.Rejected("delete", "forbidden"))

	err := f.client.Delete(ctx, "alice")
	if codeOf(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", codeOf(err))
	}
	if msg := grpcstatus.Convert(err).Message(); !strings.Contains(msg, "rejected") {
		t.Errorf("message = %q, want user-facing rejection", msg)
	}
	if !f.store.Has("alice") {
		t.Error("failed delete must keep the conversation")
	}

	// Retry after failure is allowed.
	if err := f.client.Delete(ctx, "alice"); err != nil {
		t.Fatalf("retry Delete: %v", err)
	}
	if f.store.Has("alice") {
		t.Error("conversation should be gone after a successful delete")
	}
}

func TestStatusAndUnsupportedAuth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	fields := st.GetFields()
	if fields["session"].GetStringValue() != "test" {
		t.Errorf("session = %q", fields["session"].GetStringValue())
	}
	if fields["status"].GetStringValue() != string(status.Booting) {
		t.Errorf("status = %q, want BOOTING", fields["status"].GetStringValue())
	}

	if err := f.client.Logout(ctx); codeOf(err) != codes.Unimplemented {
		t.Errorf("Logout code = %v, want Unimplemented", codeOf(err))
	}
}

type failingAuth struct{ err error }

func (a failingAuth) StartQRAuth(context.Context, *bus.Bus) (<-chan wa.AuthEvent, error) {
	return nil, a.err
}
func (a failingAuth) Logout(context.Context) error { return a.err }
func (a failingAuth) PhoneNumber() string         { return "" }

func TestLogoutHidesTransportError(t *testing.T) {
	b := bus.New()
	st := conversation.NewStore(b, conversation.Options{})
	raw := fmt.Errorf("write tcp 10.0.0.1:443: %w", remotetest.Transient("logout"))
	svc := NewService("test", st, nil, status.NewMachine(b), b, nil, failingAuth{err: raw})

	_, err := svc.Logout(context.Background(), nil)
	if codeOf(err) != codes.Unavailable {
		t.Errorf("Logout code = %v, want Unavailable", codeOf(err))
	}
	if msg := grpcstatus.Convert(err).Message(); strings.Contains(msg, "10.0.0.1") || strings.Contains(msg, "connection reset") {
		t.Errorf("Logout message leaks transport detail: %q", msg)
	}
}

func TestListOutbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.db.QueueOutbox("local-1", "alice", "queued body"); err != nil {
		t.Fatal(err)
	}
	if err := f.db.MarkOutboxFailed("local-1", "boom"); err != nil {
		t.Fatal(err)
	}

	entries, err := f.client.ListOutbox(ctx, store.OutboxFailed, 0)
	if err != nil {
		t.Fatalf("ListOutbox: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if got := entries[0].GetFields()["error"].GetStringValue(); got != "boom" {
		t.Errorf("error = %q, want boom", got)
	}
}

func TestWatchStreamsStoreChanges(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := f.client.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	got := make(chan string, 1)
	go func() {
		for {
			evt, err := stream.Recv()
			if err != nil {
				return
			}
			f := evt.GetFields()
			if f["kind"].GetStringValue() == conversation.EventUpdated {
				got <- f["conversation_id"].GetStringValue()
				return
			}
		}
	}()

	// The server subscribes asynchronously; keep mutating until an event lands.
	deadline := time.After(2 * time.Second)
	for i := 0; ; i++ {
		f.store.AddMessage("carol", conversation.Message{ID: fmt.Sprintf("m%d", i), Body: "x", Timestamp: time.Now()})
		select {
		case id := <-got:
			if id != "carol" {
				t.Errorf("conversation_id = %q, want carol", id)
			}
			return
		case <-deadline:
			t.Fatal("timeout waiting for watch event")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
