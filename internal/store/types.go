package store

import "time"

// Outbox statuses.
const (
	OutboxQueued    = "queued"
	OutboxSending   = "sending"
	OutboxSent      = "sent"
	OutboxFailed    = "failed"
	OutboxDiscarded = "discarded"
)

// OutboxEntry is the journal record of one outbound message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Status         string
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PendingDelete is a conversation delete awaiting remote confirmation.
type PendingDelete struct {
	ConversationID string
	Cause          string
	LastError      string
	Attempts       int
	QueuedAt       time.Time
}
