package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lioncast/chatsync/chat"
)

const conversationColumns = `local_id, id, name, avatar_url, is_group, is_distinct, creator,
	created_at, updated_at, state, last_msg_seq, last_activity_at, unread_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*chat.Conversation, error) {
	var (
		c        chat.Conversation
		state    int
		seq      int64
		activity int64
		unread   int64
	)
	err := row.Scan(&c.LocalID, &c.ID, &c.Name, &c.AvatarURL, &c.IsGroup, &c.IsDistinct, &c.Creator,
		&c.CreatedAt, &c.UpdatedAt, &state, &seq, &activity, &unread)
	if err != nil {
		return nil, err
	}
	c.State = chat.ConversationState(state)
	c.LastMessageSeq = uint64(seq)
	c.UnreadCount = uint32(unread)
	if activity > c.UpdatedAt {
		c.UpdatedAt = activity
	}
	return &c, nil
}

// resolveConversationKey maps a server id or local id to the stored
// local_id primary key. Returns "" when the conversation is not cached.
func resolveConversationKey(tx *sql.Tx, key string) (string, error) {
	var local string
	err := tx.QueryRow(`SELECT local_id FROM conversations WHERE local_id = ? OR (id != '' AND id = ?)`, key, key).Scan(&local)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return local, err
}

// UpsertConversation inserts or updates a conversation record
// (idempotent by server id, aliased by local id). last_msg_seq and the
// activity timestamp only ever move forward.
func (db *DB) UpsertConversation(c *chat.Conversation) error {
	key := c.LocalID
	if key == "" {
		key = c.ID
	}
	if key == "" {
		return fmt.Errorf("upsert conversation: missing id")
	}

	activity := c.UpdatedAt
	if c.LastMessage != nil && c.LastMessage.CreatedAt > activity {
		activity = c.LastMessage.CreatedAt
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A record created locally before sync keeps its local_id key when
	// the server copy arrives under a different (or absent) local id.
	if existing, err := resolveConversationKey(tx, c.ID); err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	} else if existing != "" {
		key = existing
	}

	_, err = tx.Exec(`
		INSERT INTO conversations (local_id, id, name, avatar_url, is_group, is_distinct, creator,
			created_at, updated_at, state, last_msg_seq, last_activity_at, unread_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			id = CASE WHEN excluded.id != '' THEN excluded.id ELSE conversations.id END,
			name = excluded.name,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
			is_group = excluded.is_group,
			is_distinct = excluded.is_distinct,
			creator = CASE WHEN excluded.creator != '' THEN excluded.creator ELSE conversations.creator END,
			created_at = CASE WHEN conversations.created_at = 0 THEN excluded.created_at ELSE conversations.created_at END,
			updated_at = MAX(conversations.updated_at, excluded.updated_at),
			state = excluded.state,
			last_msg_seq = MAX(conversations.last_msg_seq, excluded.last_msg_seq),
			last_activity_at = MAX(conversations.last_activity_at, excluded.last_activity_at),
			unread_count = excluded.unread_count`,
		key, c.ID, c.Name, c.AvatarURL, c.IsGroup, c.IsDistinct, c.Creator,
		c.CreatedAt, c.UpdatedAt, int(c.State), int64(c.LastMessageSeq), activity, int64(c.UnreadCount))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if c.Participants != nil {
		if err := replaceParticipants(tx, key, c.Participants); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func replaceParticipants(tx *sql.Tx, key string, users []chat.User) error {
	if _, err := tx.Exec(`DELETE FROM conversation_participants WHERE conversation_key = ?`, key); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	now := time.Now().UnixMilli()
	for i, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO conversation_participants (conversation_key, user_id, position)
			VALUES (?, ?, ?)`, key, u.UserID, i); err != nil {
			return fmt.Errorf("insert participant %q: %w", u.UserID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO users (user_id, name, avatar_url, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
				updated_at = excluded.updated_at`,
			u.UserID, u.Name, u.AvatarURL, now); err != nil {
			return fmt.Errorf("upsert participant user %q: %w", u.UserID, err)
		}
	}
	return nil
}

// GetConversation returns a conversation by server id or local id, with
// participants and the denormalized last message loaded. Returns nil
// when not cached.
func (db *DB) GetConversation(key string) (*chat.Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations
		WHERE local_id = ? OR (id != '' AND id = ?)`, key, key)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := db.hydrateConversation(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (db *DB) hydrateConversation(c *chat.Conversation) error {
	rows, err := db.Query(`
		SELECT p.user_id, COALESCE(u.name, ''), COALESCE(u.avatar_url, '')
		FROM conversation_participants p
		LEFT JOIN users u ON p.user_id = u.user_id
		WHERE p.conversation_key = ?
		ORDER BY p.position ASC`, c.LocalID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	var users []chat.User
	for rows.Next() {
		var u chat.User
		if err := rows.Scan(&u.UserID, &u.Name, &u.AvatarURL); err != nil {
			return err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	c.Participants = users

	if c.ID != "" {
		last, err := db.LastMessage(c.ID)
		if err != nil {
			return err
		}
		c.LastMessage = last
	}
	return nil
}

func (db *DB) queryConversations(query string, args ...any) ([]*chat.Conversation, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []*chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range convs {
		if err := db.hydrateConversation(c); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// ListRecentConversations returns conversations by last activity
// descending, ties broken by id for determinism.
func (db *DB) ListRecentConversations(limit int) ([]*chat.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryConversations(`SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_activity_at DESC, local_id ASC
		LIMIT ?`, limit)
}

// ListConversationsWindow returns the conversations strictly on one side
// of the query's activity-timestamp anchor. Before windows are
// newest-first, After windows oldest-first.
func (db *DB) ListConversationsWindow(q chat.PageQuery) ([]*chat.Conversation, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Direction == chat.Before {
		return db.queryConversations(`SELECT `+conversationColumns+` FROM conversations
			WHERE last_activity_at < ?
			ORDER BY last_activity_at DESC, local_id ASC
			LIMIT ?`, q.Anchor, q.Limit)
	}
	return db.queryConversations(`SELECT `+conversationColumns+` FROM conversations
		WHERE last_activity_at > ?
		ORDER BY last_activity_at ASC, local_id ASC
		LIMIT ?`, q.Anchor, q.Limit)
}

// ListLocalConversations returns the cached conversations the given user
// participates in, most recent activity first.
func (db *DB) ListLocalConversations(userID string) ([]*chat.Conversation, error) {
	return db.queryConversations(`SELECT `+conversationColumns+` FROM conversations
		WHERE local_id IN (SELECT conversation_key FROM conversation_participants WHERE user_id = ?)
		ORDER BY last_activity_at DESC, local_id ASC`, userID)
}

// DeleteConversation removes a conversation, its participant links and
// its messages. Deleting an absent conversation is a no-op.
func (db *DB) DeleteConversation(key string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	local, err := resolveConversationKey(tx, key)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if local == "" {
		return tx.Commit()
	}

	var serverID string
	if err := tx.QueryRow(`SELECT id FROM conversations WHERE local_id = ?`, local).Scan(&serverID); err != nil {
		return err
	}
	if serverID != "" {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, serverID); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM conversation_participants WHERE conversation_key = ?`, local); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE local_id = ?`, local); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// TouchConversationActivity moves a conversation's activity timestamp and
// last message sequence forward. Values never move backward.
func (db *DB) TouchConversationActivity(key string, ts int64, seq uint64) error {
	_, err := db.Exec(`
		UPDATE conversations SET
			last_activity_at = MAX(last_activity_at, ?),
			last_msg_seq = MAX(last_msg_seq, ?),
			updated_at = MAX(updated_at, ?)
		WHERE local_id = ? OR (id != '' AND id = ?)`,
		ts, int64(seq), ts, key, key)
	return err
}

// IncrementUnread bumps a conversation's unread counter by one.
func (db *DB) IncrementUnread(key string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = unread_count + 1
		WHERE local_id = ? OR (id != '' AND id = ?)`, key, key)
	return err
}

// MarkConversationRead zeroes a conversation's unread counter.
func (db *DB) MarkConversationRead(key string) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0
		WHERE local_id = ? OR (id != '' AND id = ?)`, key, key)
	return err
}

// UnreadConversationCount returns how many conversations have unread
// messages.
func (db *DB) UnreadConversationCount() (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE unread_count > 0`).Scan(&count)
	return count, err
}

// SetConversationState updates the lifecycle state of a conversation.
func (db *DB) SetConversationState(key string, state chat.ConversationState) error {
	_, err := db.Exec(`UPDATE conversations SET state = ?, updated_at = ?
		WHERE local_id = ? OR (id != '' AND id = ?)`,
		int(state), time.Now().UnixMilli(), key, key)
	return err
}

// UpdateConversationMeta updates display name and avatar. Empty values
// leave the stored value unchanged.
func (db *DB) UpdateConversationMeta(key, name, avatarURL string) error {
	_, err := db.Exec(`
		UPDATE conversations SET
			name = CASE WHEN ? != '' THEN ? ELSE name END,
			avatar_url = CASE WHEN ? != '' THEN ? ELSE avatar_url END,
			updated_at = ?
		WHERE local_id = ? OR (id != '' AND id = ?)`,
		name, name, avatarURL, avatarURL, time.Now().UnixMilli(), key, key)
	return err
}

// AddParticipantUsers appends users to a conversation's participant set,
// preserving join order. Already-present users are left in place.
func (db *DB) AddParticipantUsers(key string, users []chat.User) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	local, err := resolveConversationKey(tx, key)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if local == "" {
		return fmt.Errorf("conversation %q not cached", key)
	}

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(position), -1) + 1 FROM conversation_participants
		WHERE conversation_key = ?`, local).Scan(&next); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i, u := range users {
		if _, err := tx.Exec(`
			INSERT INTO conversation_participants (conversation_key, user_id, position)
			VALUES (?, ?, ?)
			ON CONFLICT(conversation_key, user_id) DO NOTHING`, local, u.UserID, next+i); err != nil {
			return fmt.Errorf("add participant %q: %w", u.UserID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO users (user_id, name, avatar_url, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
				updated_at = excluded.updated_at`,
			u.UserID, u.Name, u.AvatarURL, now); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.UserID, err)
		}
	}
	return tx.Commit()
}

// RemoveParticipantUsers removes users from a conversation's participant
// set. Absent users are ignored.
func (db *DB) RemoveParticipantUsers(key string, userIDs []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	local, err := resolveConversationKey(tx, key)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if local == "" {
		return tx.Commit()
	}
	for _, id := range userIDs {
		if _, err := tx.Exec(`DELETE FROM conversation_participants
			WHERE conversation_key = ? AND user_id = ?`, local, id); err != nil {
			return fmt.Errorf("remove participant %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// ClearAll wipes the entire local cache.
func (db *DB) ClearAll() error {
	for _, table := range []string{"messages", "conversation_participants", "conversations", "users"} {
		if _, err := db.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// ConversationCount returns the total number of cached conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
