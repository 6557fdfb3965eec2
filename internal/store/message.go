package store

import (
	"database/sql"
	"fmt"

	"github.com/lioncast/chatsync/chat"
)

const messageColumns = `m.conversation_id, m.local_id, m.id, m.sender_id,
	COALESCE(NULLIF(u.name, ''), m.sender_id) AS sender_name,
	m.created_at, m.seq, m.state, m.content`

const messageJoin = `FROM messages m LEFT JOIN users u ON m.sender_id = u.user_id`

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		m     chat.Message
		seq   int64
		state int
		body  string
	)
	err := row.Scan(&m.ConversationID, &m.LocalID, &m.ID, &m.SenderID, &m.SenderName,
		&m.CreatedAt, &seq, &state, &body)
	if err != nil {
		return nil, err
	}
	m.Sequence = uint64(seq)
	m.State = chat.DeliveryState(state)
	if body != "" {
		content, err := chat.UnmarshalContent([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode message %s/%s: %w", m.ConversationID, m.LocalID, err)
		}
		m.Content = content
	}
	return &m, nil
}

// InsertPending stores a locally-composed message awaiting dispatch. The
// message carries no server id or sequence yet.
func (db *DB) InsertPending(m *chat.Message) error {
	body, err := chat.MarshalContent(m.Content)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO messages (conversation_id, local_id, id, sender_id, created_at, seq, state, content, dispatched)
		VALUES (?, ?, '', ?, ?, 0, ?, ?, 0)`,
		m.ConversationID, m.LocalID, m.SenderID, m.CreatedAt, int(m.State), string(body))
	if err != nil {
		return fmt.Errorf("insert pending message: %w", err)
	}
	return nil
}

// PendingSends returns undispatched local messages in composition order.
func (db *DB) PendingSends() ([]*chat.Message, error) {
	return db.queryMessages(`SELECT `+messageColumns+` `+messageJoin+`
		WHERE m.seq = 0 AND m.dispatched = 0 AND m.state = ?
		ORDER BY m.created_at ASC, m.local_id ASC`, int(chat.DeliverySending))
}

// MarkDispatched records that a pending message has been handed to the
// sender so a crashed send is not silently retried with a new identity.
func (db *DB) MarkDispatched(conversationID, localID string) error {
	_, err := db.Exec(`UPDATE messages SET dispatched = 1
		WHERE conversation_id = ? AND local_id = ?`, conversationID, localID)
	return err
}

// AttachAck binds the server identity from a send acknowledgement to a
// pending message and advances it to sent. Re-applying an ack is a no-op.
// If the server echo of the same message already reached the cache
// through a push or window merge, the echo row is folded into the
// pending row so the sequence slot stays unique.
func (db *DB) AttachAck(conversationID, localID, serverID string, seq uint64, createdAt int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pendingCreated int64
	err = tx.QueryRow(`SELECT created_at FROM messages
		WHERE conversation_id = ? AND local_id = ? AND seq = 0`,
		conversationID, localID).Scan(&pendingCreated)
	if err == sql.ErrNoRows {
		// Already acked, or reconciled by a push carrying the local id.
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("attach ack: %w", err)
	}

	state := chat.DeliverySent
	var (
		echoLocal string
		echoState int
	)
	err = tx.QueryRow(`SELECT local_id, state FROM messages
		WHERE conversation_id = ? AND seq = ? AND local_id != ?`,
		conversationID, int64(seq), localID).Scan(&echoLocal, &echoState)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("attach ack: %w", err)
	}
	if err == nil {
		// The echo may already have advanced past sent.
		if state.CanTransition(chat.DeliveryState(echoState)) {
			state = chat.DeliveryState(echoState)
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND local_id = ?`,
			conversationID, echoLocal); err != nil {
			return fmt.Errorf("attach ack: fold echo: %w", err)
		}
	}

	_, err = tx.Exec(`
		UPDATE messages SET
			id = ?,
			seq = ?,
			state = ?,
			created_at = CASE WHEN ? > 0 THEN ? ELSE created_at END,
			dispatched = 1
		WHERE conversation_id = ? AND local_id = ?`,
		serverID, int64(seq), int(state),
		createdAt, createdAt, conversationID, localID)
	if err != nil {
		return fmt.Errorf("attach ack: %w", err)
	}

	ts := createdAt
	if ts == 0 {
		ts = pendingCreated
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET
			last_msg_seq = MAX(last_msg_seq, ?),
			last_activity_at = MAX(last_activity_at, ?),
			updated_at = MAX(updated_at, ?)
		WHERE local_id = ? OR (id != '' AND id = ?)`,
		int64(seq), ts, ts, conversationID, conversationID); err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}
	return tx.Commit()
}

// MarkSendFailed moves a pending message to the failed state with the
// error recorded for inspection.
func (db *DB) MarkSendFailed(conversationID, localID, reason string) error {
	_, err := db.Exec(`UPDATE messages SET state = ?, error_message = ?
		WHERE conversation_id = ? AND local_id = ? AND seq = 0`,
		int(chat.DeliveryFailed), reason, conversationID, localID)
	return err
}

// UpsertRemoteMessage merges a server-sourced message into the cache,
// matching an existing row by local id, server id or sequence. Reports
// whether a new row was inserted. Delivery state only advances along
// allowed transitions; a stale state in the payload is ignored.
func (db *DB) UpsertRemoteMessage(m *chat.Message) (bool, error) {
	localID := m.LocalID
	if localID == "" {
		localID = m.ID
	}
	if localID == "" {
		return false, fmt.Errorf("upsert message: missing id")
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	matches, err := lookupMessageRows(tx, m, localID)
	if err != nil {
		return false, fmt.Errorf("lookup message: %w", err)
	}

	if len(matches) == 0 {
		body, err := chat.MarshalContent(m.Content)
		if err != nil {
			return false, err
		}
		_, err = tx.Exec(`
			INSERT INTO messages (conversation_id, local_id, id, sender_id, created_at, seq, state, content, dispatched)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			m.ConversationID, localID, m.ID, m.SenderID, m.CreatedAt,
			int64(m.Sequence), int(m.State), string(body))
		if err != nil {
			return false, fmt.Errorf("insert remote message: %w", err)
		}
		return true, tx.Commit()
	}

	// A pending send matched by local id and a server echo matched by
	// sequence can be two distinct rows; fold the extras into the row
	// keyed by the caller's correlation id before updating it.
	survivor := matches[0]
	for _, r := range matches[1:] {
		if r.localID == localID {
			survivor = r
		}
	}
	for _, r := range matches {
		if r.localID == survivor.localID {
			continue
		}
		if chat.DeliveryState(survivor.state).CanTransition(chat.DeliveryState(r.state)) {
			survivor.state = r.state
		}
		if survivor.seq == 0 {
			survivor.seq = r.seq
		}
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND local_id = ?`,
			m.ConversationID, r.localID); err != nil {
			return false, fmt.Errorf("fold duplicate message: %w", err)
		}
	}
	existingLocal, existingState, existingSeq := survivor.localID, survivor.state, survivor.seq

	state := chat.DeliveryState(existingState)
	if m.State != state && state.CanTransition(m.State) {
		state = m.State
	}
	seq := existingSeq
	if seq == 0 {
		seq = int64(m.Sequence)
	}

	var contentUpdate any // nil leaves the stored content untouched
	if m.Content != nil {
		body, err := chat.MarshalContent(m.Content)
		if err != nil {
			return false, err
		}
		contentUpdate = string(body)
	}

	_, err = tx.Exec(`
		UPDATE messages SET
			id = CASE WHEN ? != '' THEN ? ELSE id END,
			sender_id = CASE WHEN ? != '' THEN ? ELSE sender_id END,
			created_at = CASE WHEN ? > 0 THEN ? ELSE created_at END,
			seq = ?,
			state = ?,
			content = COALESCE(?, content),
			dispatched = 1
		WHERE conversation_id = ? AND local_id = ?`,
		m.ID, m.ID, m.SenderID, m.SenderID, m.CreatedAt, m.CreatedAt,
		seq, int(state), contentUpdate, m.ConversationID, existingLocal)
	if err != nil {
		return false, fmt.Errorf("update remote message: %w", err)
	}
	return false, tx.Commit()
}

type messageRow struct {
	localID string
	state   int
	seq     int64
}

func lookupMessageRows(tx *sql.Tx, m *chat.Message, localID string) ([]messageRow, error) {
	rows, err := tx.Query(`
		SELECT local_id, state, seq FROM messages
		WHERE conversation_id = ? AND (
			local_id = ?
			OR (? != '' AND id = ?)
			OR (? > 0 AND seq = ?)
		)`,
		m.ConversationID, localID, m.ID, m.ID, int64(m.Sequence), int64(m.Sequence))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []messageRow
	for rows.Next() {
		var r messageRow
		if err := rows.Scan(&r.localID, &r.state, &r.seq); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListLocalMessages returns the newest messages of a conversation in
// ascending order: acknowledged messages by sequence, then pending local
// sends by composition time.
func (db *DB) ListLocalMessages(conversationID string, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := db.queryMessages(`SELECT `+messageColumns+` `+messageJoin+`
		WHERE m.conversation_id = ?
		ORDER BY (m.seq > 0) ASC, m.seq DESC, m.created_at DESC, m.local_id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	reverseMessages(msgs)
	return msgs, nil
}

// ListMessagesWindow returns acknowledged messages strictly on one side
// of the query's sequence anchor, in the direction's natural order.
func (db *DB) ListMessagesWindow(conversationID string, q chat.PageQuery) ([]*chat.Message, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Direction == chat.Before {
		return db.queryMessages(`SELECT `+messageColumns+` `+messageJoin+`
			WHERE m.conversation_id = ? AND m.seq > 0 AND m.seq < ?
			ORDER BY m.seq DESC
			LIMIT ?`, conversationID, q.Anchor, q.Limit)
	}
	return db.queryMessages(`SELECT `+messageColumns+` `+messageJoin+`
		WHERE m.conversation_id = ? AND m.seq > ?
		ORDER BY m.seq ASC
		LIMIT ?`, conversationID, q.Anchor, q.Limit)
}

// LastMessage returns the most recent message of a conversation: the
// highest acknowledged sequence, or the newest pending send when nothing
// has been acknowledged. Returns nil for an empty conversation.
func (db *DB) LastMessage(conversationID string) (*chat.Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` `+messageJoin+`
		WHERE m.conversation_id = ?
		ORDER BY (m.seq > 0) DESC, m.seq DESC, m.created_at DESC, m.local_id DESC
		LIMIT 1`, conversationID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// GetMessage returns a message by server id or local id, or nil when
// absent.
func (db *DB) GetMessage(conversationID, key string) (*chat.Message, error) {
	row := db.QueryRow(`SELECT `+messageColumns+` `+messageJoin+`
		WHERE m.conversation_id = ? AND (m.local_id = ? OR (m.id != '' AND m.id = ?))`,
		conversationID, key, key)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// SetMessageState advances a message's delivery state if the transition
// is allowed. Reports whether the row changed.
func (db *DB) SetMessageState(conversationID, key string, state chat.DeliveryState) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRow(`SELECT state FROM messages
		WHERE conversation_id = ? AND (local_id = ? OR (id != '' AND id = ?))`,
		conversationID, key, key).Scan(&current)
	if err == sql.ErrNoRows {
		return false, tx.Commit()
	}
	if err != nil {
		return false, err
	}
	if !chat.DeliveryState(current).CanTransition(state) {
		return false, tx.Commit()
	}
	if _, err := tx.Exec(`UPDATE messages SET state = ?
		WHERE conversation_id = ? AND (local_id = ? OR (id != '' AND id = ?))`,
		int(state), conversationID, key, key); err != nil {
		return false, fmt.Errorf("set message state: %w", err)
	}
	return true, tx.Commit()
}

// DeleteMessage removes a message by server id or local id. Deleting an
// absent message is a no-op; reports whether a row was removed.
func (db *DB) DeleteMessage(conversationID, key string) (bool, error) {
	res, err := db.Exec(`DELETE FROM messages
		WHERE conversation_id = ? AND (id = ? OR local_id = ?)`,
		conversationID, key, key)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (db *DB) queryMessages(query string, args ...any) ([]*chat.Message, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []*chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func reverseMessages(msgs []*chat.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
