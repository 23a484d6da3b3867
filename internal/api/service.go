package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/canteiro/internal/bus"
	"github.com/matheus3301/canteiro/internal/conversation"
	"github.com/matheus3301/canteiro/internal/mutation"
	"github.com/matheus3301/canteiro/internal/status"
	"github.com/matheus3301/canteiro/internal/store"
	"github.com/matheus3301/canteiro/internal/wa"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Authenticator pairs and unpairs the account. Only the in-process WhatsApp
// transport has one.
type Authenticator interface {
	StartQRAuth(ctx context.Context, b *bus.Bus) (<-chan wa.AuthEvent, error)
	Logout(ctx context.Context) error
	PhoneNumber() string
}

// Service implements ConversationsServer.
type Service struct {
	sessionName string
	startedAt   time.Time
	store       *conversation.Store
	coord       *mutation.Coordinator
	machine     *status.Machine
	bus         *bus.Bus
	db          *store.DB
	auth        Authenticator
}

var _ ConversationsServer = (*Service)(nil)

// NewService creates the service. db and auth may be nil.
func NewService(sessionName string, st *conversation.Store, coord *mutation.Coordinator, machine *status.Machine, b *bus.Bus, db *store.DB, auth Authenticator) *Service {
	return &Service{
		sessionName: sessionName,
		startedAt:   time.Now(),
		store:       st,
		coord:       coord,
		machine:     machine,
		bus:         b,
		db:          db,
		auth:        auth,
	}
}

var empty = &structpb.Struct{}

func (s *Service) List(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	convs := s.store.List()
	items := make([]any, 0, len(convs))
	for _, c := range convs {
		items = append(items, summaryFields(c))
	}
	return newStruct(map[string]any{
		"conversations": items,
		"version":       s.store.Version(),
	})
}

func (s *Service) Get(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "id")
	c, ok := s.store.Get(id)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", id)
	}
	fields := conversationFields(c)
	fields["delete_state"] = deleteStateName(s.coord.DeleteState(id))
	return newStruct(map[string]any{"conversation": fields})
}

func (s *Service) Send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var media *conversation.Media
	if m := in.GetFields()["media"].GetStructValue(); m != nil {
		media = &conversation.Media{
			URL:  stringField(m, "url"),
			Type: stringField(m, "type"),
			Name: stringField(m, "name"),
			Size: int64(intField(m, "size")),
		}
	}
	msg, err := s.coord.Send(ctx, stringField(in, "conversation_id"), stringField(in, "body"), media)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"message": messageFields(msg)})
}

func (s *Service) Resend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	msg, err := s.coord.Resend(ctx, stringField(in, "conversation_id"), stringField(in, "message_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"message": messageFields(msg)})
}

func (s *Service) Discard(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.coord.Discard(stringField(in, "conversation_id"), stringField(in, "message_id")); err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

func (s *Service) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.coord.Delete(ctx, stringField(in, "id")); err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

func (s *Service) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.coord.MarkRead(ctx, stringField(in, "id")); err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

func (s *Service) SetFocused(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.coord.SetFocused(ctx, stringField(in, "id")); err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

func (s *Service) Refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.coord.Refresh(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{
		"skipped":     res.Skipped,
		"applied":     res.Stats.Applied,
		"kept":        res.Stats.Kept,
		"dropped":     res.Stats.Dropped,
		"removed":     res.Stats.Removed,
		"version":     res.Stats.Version,
		"duration_ms": res.Duration.Milliseconds(),
	})
}

func (s *Service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	fields := map[string]any{
		"session":       s.sessionName,
		"status":        string(s.machine.Current()),
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
		"status_since":  s.machine.Since().UTC().Format(time.RFC3339),
		"version":       s.store.Version(),
		"conversations": s.store.Len(),
		"focused":       s.store.Focused(),
	}
	if s.auth != nil {
		fields["phone_number"] = s.auth.PhoneNumber()
	}
	return newStruct(fields)
}

func (s *Service) ListOutbox(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.db == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "journal not available")
	}
	entries, err := s.db.ListOutbox(stringField(in, "status"), intField(in, "limit"))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list outbox: %v", err)
	}
	items := make([]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, outboxFields(e))
	}
	return newStruct(map[string]any{"entries": items})
}

func (s *Service) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "logout is not supported by this transport")
	}
	if err := s.auth.Logout(ctx); err != nil {
		return nil, toStatus(err)
	}
	return empty, nil
}

// Watch streams store change notifications and connection status changes
// until the client goes away.
func (s *Service) Watch(_ *structpb.Struct, stream grpc.ServerStream) error {
	convCh, unsubConv := s.bus.Subscribe("conversation.", 256)
	defer unsubConv()
	sessCh, unsubSess := s.bus.Subscribe("session.", 64)
	defer unsubSess()

	for {
		var evt bus.Event
		select {
		case evt = <-convCh:
		case evt = <-sessCh:
		case <-stream.Context().Done():
			return nil
		}
		env, err := s.envelope(evt)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(env); err != nil {
			return err
		}
	}
}

func (s *Service) envelope(evt bus.Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"event_id":       uuid.New().String(),
		"session":        s.sessionName,
		"kind":           evt.Kind,
		"occurred_at_ms": evt.Timestamp.UnixMilli(),
	}
	switch p := evt.Payload.(type) {
	case conversation.Change:
		fields["conversation_id"] = p.ID
		fields["version"] = p.Version
	case conversation.ReplaceStats:
		fields["version"] = p.Version
		fields["applied"] = p.Applied
		fields["removed"] = p.Removed
	case status.StatusChange:
		fields["from"] = string(p.From)
		fields["to"] = string(p.To)
	}
	return newStruct(fields)
}

// StartAuth streams QR pairing events until pairing ends.
func (s *Service) StartAuth(_ *structpb.Struct, stream grpc.ServerStream) error {
	if s.auth == nil {
		return grpcstatus.Error(codes.Unimplemented, "pairing is not supported by this transport")
	}
	authCh, err := s.auth.StartQRAuth(stream.Context(), s.bus)
	if errors.Is(err, wa.ErrAlreadyPaired) {
		return grpcstatus.Error(codes.AlreadyExists, "this session is already paired, log out first")
	}
	if err != nil {
		return grpcstatus.Errorf(codes.FailedPrecondition, "start auth: %v", err)
	}
	for evt := range authCh {
		msg, err := newStruct(map[string]any{
			"event_type": string(evt.Type),
			"qr_code":    evt.QRCode,
			"message":    evt.Message,
		})
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

func deleteStateName(d mutation.DeleteState) string {
	switch d {
	case mutation.Deleting:
		return "deleting"
	case mutation.DeleteFailed:
		return "failed"
	default:
		return "idle"
	}
}
