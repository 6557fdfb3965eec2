// Package directory resolves user identities for display, backed by the
// local store with an in-memory read-through cache.
package directory

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lioncast/chatsync/chat"
	"github.com/lioncast/chatsync/internal/store"
)

// Directory caches user records keyed by user id. Lookups fall through
// to the store on a miss; unknown users resolve to an id-only record so
// callers always get something displayable.
type Directory struct {
	db  *store.DB
	log *zap.Logger

	mu    sync.RWMutex
	users map[string]chat.User
}

func New(db *store.DB, log *zap.Logger) *Directory {
	return &Directory{
		db:    db,
		log:   log.Named("directory"),
		users: make(map[string]chat.User),
	}
}

// Resolve returns the user record for an id. For an unknown user the
// returned record carries only the id.
func (d *Directory) Resolve(userID string) chat.User {
	if userID == "" {
		return chat.User{}
	}
	d.mu.RLock()
	u, ok := d.users[userID]
	d.mu.RUnlock()
	if ok {
		return u
	}

	stored, err := d.db.GetUser(userID)
	if err != nil {
		d.log.Warn("user lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	if stored == nil {
		return chat.User{UserID: userID}
	}

	d.mu.Lock()
	d.users[userID] = *stored
	d.mu.Unlock()
	return *stored
}

// DisplayName returns the user's display name, falling back to the id
// when no name is known.
func (d *Directory) DisplayName(userID string) string {
	return d.Resolve(userID).DisplayName()
}

// Refresh persists an updated user record and replaces the cached copy.
func (d *Directory) Refresh(u chat.User) error {
	if u.UserID == "" {
		return nil
	}
	if err := d.db.UpsertUser(u); err != nil {
		return err
	}
	stored, err := d.db.GetUser(u.UserID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if stored != nil {
		d.users[u.UserID] = *stored
	}
	d.mu.Unlock()
	return nil
}

// RefreshAll persists a batch of user records and invalidates their
// cached copies.
func (d *Directory) RefreshAll(users []chat.User) error {
	if err := d.db.BulkUpsertUsers(users); err != nil {
		return err
	}
	d.mu.Lock()
	for _, u := range users {
		delete(d.users, u.UserID)
	}
	d.mu.Unlock()
	return nil
}

// Invalidate drops the in-memory cache. The store remains the source of
// truth.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.users = make(map[string]chat.User)
	d.mu.Unlock()
}
