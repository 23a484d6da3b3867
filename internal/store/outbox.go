package store

import "time"

// QueueOutbox records a send that is about to be attempted.
func (db *DB) QueueOutbox(clientMsgID, conversationID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(client_msg_id) DO NOTHING`,
		clientMsgID, conversationID, body, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSending, "", "")
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxSent, "", serverMsgID)
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	return db.setOutboxStatus(clientMsgID, OutboxFailed, errMsg, "")
}

// DiscardOutbox marks a failed entry as given up by the user.
func (db *DB) DiscardOutbox(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, OutboxDiscarded, "", "")
}

func (db *DB) setOutboxStatus(clientMsgID, status, errMsg, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET
			status = ?,
			error_message = CASE WHEN ? != '' THEN ? ELSE error_message END,
			server_msg_id = CASE WHEN ? != '' THEN ? ELSE server_msg_id END,
			updated_at = ?
		WHERE client_msg_id = ?`,
		status, errMsg, errMsg, serverMsgID, serverMsgID, now, clientMsgID)
	return err
}

// ListOutbox returns outbox entries with the given status, oldest first.
// An empty status lists every entry.
func (db *DB) ListOutbox(status string, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, body, status, error_message, server_msg_id, created_at, updated_at
		FROM outbox WHERE (? = '' OR status = ?) ORDER BY created_at ASC, id ASC LIMIT ?`,
		status, status, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var created, updated int64
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID, &created, &updated); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		e.UpdatedAt = time.UnixMilli(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FailInterruptedOutbox marks entries still queued or sending that were last
// updated before t as failed. Nothing can be in flight across a restart.
func (db *DB) FailInterruptedOutbox(before time.Time) (int64, error) {
	res, err := db.Exec(`
		UPDATE outbox SET status = 'failed', error_message = 'interrupted by restart', updated_at = ?
		WHERE status IN ('queued', 'sending') AND updated_at < ?`,
		time.Now().UnixMilli(), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneOutbox deletes sent and discarded entries last updated before t.
func (db *DB) PruneOutbox(before time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE status IN ('sent', 'discarded') AND updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
