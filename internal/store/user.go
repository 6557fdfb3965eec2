package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lioncast/chatsync/chat"
)

// UpsertUser inserts or refreshes a user identity. Empty fields never
// overwrite known values.
func (db *DB) UpsertUser(u chat.User) error {
	_, err := db.Exec(`
		INSERT INTO users (user_id, name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			updated_at = excluded.updated_at`,
		u.UserID, u.Name, u.AvatarURL, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", u.UserID, err)
	}
	return nil
}

// BulkUpsertUsers refreshes a batch of user identities in one transaction.
func (db *DB) BulkUpsertUsers(users []chat.User) error {
	if len(users) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO users (user_id, name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, u := range users {
		if u.UserID == "" {
			continue
		}
		if _, err := stmt.Exec(u.UserID, u.Name, u.AvatarURL, now); err != nil {
			return fmt.Errorf("upsert user %q: %w", u.UserID, err)
		}
	}
	return tx.Commit()
}

// GetUser returns a cached user identity, or nil when unknown.
func (db *DB) GetUser(userID string) (*chat.User, error) {
	var u chat.User
	err := db.QueryRow(`SELECT user_id, name, avatar_url FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Name, &u.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
