package store

import "time"

// AddPendingDelete journals a delete the remote has not confirmed.
func (db *DB) AddPendingDelete(conversationID, cause string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO pending_deletes (conversation_id, cause, queued_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			cause = excluded.cause,
			updated_at = excluded.updated_at`,
		conversationID, cause, now, now)
	return err
}

// TouchPendingDelete records another failed replay.
func (db *DB) TouchPendingDelete(conversationID, lastErr string) error {
	_, err := db.Exec(`
		UPDATE pending_deletes SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE conversation_id = ?`,
		lastErr, time.Now().UnixMilli(), conversationID)
	return err
}

// ResolvePendingDelete forgets a delete the remote confirmed.
func (db *DB) ResolvePendingDelete(conversationID string) error {
	_, err := db.Exec(`DELETE FROM pending_deletes WHERE conversation_id = ?`, conversationID)
	return err
}

// ClearPendingDeletes forgets every journaled delete.
func (db *DB) ClearPendingDeletes() error {
	_, err := db.Exec(`DELETE FROM pending_deletes`)
	return err
}

// PendingDeletes lists journaled deletes, oldest first.
func (db *DB) PendingDeletes() ([]PendingDelete, error) {
	rows, err := db.Query(`
		SELECT conversation_id, cause, last_error, attempts, queued_at
		FROM pending_deletes ORDER BY queued_at ASC, conversation_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []PendingDelete
	for rows.Next() {
		var p PendingDelete
		var queued int64
		if err := rows.Scan(&p.ConversationID, &p.Cause, &p.LastError, &p.Attempts, &queued); err != nil {
			return nil, err
		}
		p.QueuedAt = time.UnixMilli(queued)
		out = append(out, p)
	}
	return out, rows.Err()
}
