// Package chatsync is the client-side synchronization core of a messaging
// application: a typed content model, a local conversation/message cache,
// an async send pipeline and a push normalizer, all in front of an
// external backend collaborator that owns transport and sessions.
package chatsync

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lioncast/chatsync/chat"
	"github.com/lioncast/chatsync/internal/bus"
	"github.com/lioncast/chatsync/internal/config"
	"github.com/lioncast/chatsync/internal/directory"
	"github.com/lioncast/chatsync/internal/lock"
	"github.com/lioncast/chatsync/internal/outbox"
	"github.com/lioncast/chatsync/internal/store"
	"github.com/lioncast/chatsync/internal/subs"
	"github.com/lioncast/chatsync/internal/syncer"
	"github.com/lioncast/chatsync/remote"
)

// Client is the facade over the local cache and the backend collaborator.
// Every operation validates its arguments locally before any collaborator
// call, and every operation fails with chat.ErrNotInitialized until Init.
type Client struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *store.DB
	dir      *directory.Directory
	bus      *bus.Bus
	registry *subs.Registry
	locks    *lock.Keyed
	sender   *outbox.Sender
	engine   *syncer.Engine
	svc      remote.Service

	mu     sync.Mutex
	ready  bool
	selfID string
}

// New builds a client over the given collaborator, opening and migrating
// the local cache at the configured path. The client is not usable until
// Init.
func New(cfg *config.Config, svc remote.Service, logger *zap.Logger) (*Client, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	}

	b := bus.New()
	locks := lock.NewKeyed()
	dir := directory.New(db, logger)

	return &Client{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		dir:      dir,
		bus:      b,
		registry: subs.New(),
		locks:    locks,
		sender:   outbox.NewSender(db, svc, b, locks, logger),
		engine:   syncer.New(db, dir, b, locks, logger),
		svc:      svc,
	}, nil
}

// Init marks the client ready for the given authenticated user and starts
// the send pipeline. Calling Init again replaces the user.
func (c *Client) Init(ctx context.Context, userID string) error {
	if userID == "" {
		return &chat.InvalidArgumentError{Field: "userID", Reason: "must not be empty"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine.SetSelf(userID)
	if !c.ready {
		c.sender.Start(ctx)
	}
	c.selfID = userID
	c.ready = true
	c.logger.Info("client initialized", zap.String("user_id", userID))
	return nil
}

// Close stops the send pipeline and releases the local cache.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.ready {
		c.sender.Stop()
		c.ready = false
	}
	c.mu.Unlock()
	return c.db.Close()
}

func (c *Client) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return chat.ErrNotInitialized
	}
	return nil
}

func (c *Client) self() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// --- Conversations ---

// CreateConversation creates a conversation with the given participants.
// The returned record carries the server-assigned id and echoes the
// client-assigned local id used for correlation.
func (c *Client) CreateConversation(ctx context.Context, participantIDs []string, opts chat.ConversationOptions) (*chat.Conversation, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if len(participantIDs) == 0 {
		return nil, &chat.InvalidArgumentError{Field: "participantIDs", Reason: "must not be empty"}
	}
	for _, id := range participantIDs {
		if id == "" {
			return nil, &chat.InvalidArgumentError{Field: "participantIDs", Reason: "contains empty user id"}
		}
	}

	localID := uuid.NewString()
	conv, err := c.svc.CreateConversation(ctx, localID, participantIDs, opts)
	if err != nil {
		return nil, err
	}
	if conv.LocalID == "" {
		conv.LocalID = localID
	}

	unlock := c.locks.Lock(conversationKey(conv))
	defer unlock()
	if err := c.db.UpsertConversation(conv); err != nil {
		return nil, err
	}
	return c.db.GetConversation(conversationKey(conv))
}

// GetConversation returns a conversation by id, from the local cache when
// present, otherwise fetched from the collaborator and cached.
func (c *Client) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &chat.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}

	if cached, err := c.db.GetConversation(id); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	conv, err := c.svc.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.mergeConversation(conv)
}

// GetConversationWithUser returns the distinct one-to-one conversation
// with the given user, fetching it from the collaborator when it is not
// cached locally.
func (c *Client) GetConversationWithUser(ctx context.Context, userID string) (*chat.Conversation, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, &chat.InvalidArgumentError{Field: "userID", Reason: "must not be empty"}
	}

	locals, err := c.db.ListLocalConversations(userID)
	if err != nil {
		return nil, err
	}
	for _, conv := range locals {
		if !conv.IsGroup && conv.IsDistinct {
			return conv, nil
		}
	}

	conv, err := c.svc.GetConversationWithUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.mergeConversation(conv)
}

// ListLocalConversations returns the cached conversations the given user
// participates in. No collaborator call is made.
func (c *Client) ListLocalConversations(userID string) ([]*chat.Conversation, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, &chat.InvalidArgumentError{Field: "userID", Reason: "must not be empty"}
	}
	return c.db.ListLocalConversations(userID)
}

// ListRecentConversations fetches the most recently active conversations
// from the collaborator, merges them into the cache and returns the
// merged view ordered by last activity.
func (c *Client) ListRecentConversations(ctx context.Context, limit int) ([]*chat.Conversation, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = c.cfg.DefaultPageSize
	}

	convs, err := c.svc.ListRecentConversations(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		if _, err := c.mergeConversation(conv); err != nil {
			return nil, err
		}
	}
	return c.db.ListRecentConversations(limit)
}

// ListConversationsBefore returns conversations strictly older than the
// activity-timestamp anchor, newest first.
func (c *Client) ListConversationsBefore(ctx context.Context, anchor int64, limit int) ([]*chat.Conversation, error) {
	return c.listConversationsWindow(ctx, chat.PageQuery{Anchor: anchor, Direction: chat.Before, Limit: c.pageLimit(limit)})
}

// ListConversationsAfter returns conversations strictly newer than the
// activity-timestamp anchor, oldest first.
func (c *Client) ListConversationsAfter(ctx context.Context, anchor int64, limit int) ([]*chat.Conversation, error) {
	return c.listConversationsWindow(ctx, chat.PageQuery{Anchor: anchor, Direction: chat.After, Limit: c.pageLimit(limit)})
}

func (c *Client) listConversationsWindow(ctx context.Context, q chat.PageQuery) ([]*chat.Conversation, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	convs, err := c.svc.ListConversations(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, conv := range convs {
		if _, err := c.mergeConversation(conv); err != nil {
			return nil, err
		}
	}
	return c.db.ListConversationsWindow(q)
}

// UpdateConversation updates a conversation's display name and avatar.
// Empty values leave the corresponding field unchanged.
func (c *Client) UpdateConversation(ctx context.Context, id, name, avatarURL string) (*chat.Conversation, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &chat.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}

	if err := c.svc.UpdateConversation(ctx, id, name, avatarURL); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(id)
	defer unlock()
	if err := c.db.UpdateConversationMeta(id, name, avatarURL); err != nil {
		return nil, err
	}
	return c.db.GetConversation(id)
}

// AddParticipants adds users to a conversation and returns the set the
// backend actually added, which may be a subset of the request.
func (c *Client) AddParticipants(ctx context.Context, id string, userIDs []string) ([]chat.User, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &chat.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}
	if len(userIDs) == 0 {
		return nil, &chat.InvalidArgumentError{Field: "userIDs", Reason: "must not be empty"}
	}

	added, err := c.svc.AddParticipants(ctx, id, userIDs)
	if err != nil {
		return nil, err
	}
	unlock := c.locks.Lock(id)
	defer unlock()
	if err := c.db.AddParticipantUsers(id, added); err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveParticipants removes users from a conversation and returns the
// set the backend actually removed.
func (c *Client) RemoveParticipants(ctx context.Context, id string, userIDs []string) ([]chat.User, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, &chat.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}
	if len(userIDs) == 0 {
		return nil, &chat.InvalidArgumentError{Field: "userIDs", Reason: "must not be empty"}
	}

	removed, err := c.svc.RemoveParticipants(ctx, id, userIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(removed))
	for i, u := range removed {
		ids[i] = u.UserID
	}
	unlock := c.locks.Lock(id)
	defer unlock()
	if err := c.db.RemoveParticipantUsers(id, ids); err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteConversation deletes a conversation remotely, then removes the
// local record. A group conversation must be left first; violating that
// is rejected client-side without a collaborator call. The local record
// is only removed on confirmed success.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	if err := c.guard(); err != nil {
		return err
	}
	if id == "" {
		return &chat.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}

	cached, err := c.db.GetConversation(id)
	if err != nil {
		return err
	}
	if cached != nil && cached.IsGroup && cached.State != chat.StateLeft {
		return &chat.PreconditionError{Reason: "you must leave this group before deleting"}
	}

	if err := c.svc.DeleteConversation(ctx, id); err != nil {
		return err
	}
	unlock := c.locks.Lock(id)
	defer unlock()
	return c.db.DeleteConversation(id)
}

// MarkConversationRead marks the most recent message of a conversation as
// read and zeroes the unread counter. A conversation with no messages is
// an explicit no-op success.
func (c *Client) MarkConversationRead(ctx context.Context, id string) error {
	if err := c.guard(); err != nil {
		return err
	}
	if id == "" {
		return &chat.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}

	cached, err := c.db.GetConversation(id)
	if err != nil {
		return err
	}
	if cached == nil || cached.LastMessage == nil || cached.LastMessage.Sequence == 0 {
		return nil
	}
	last := cached.LastMessage

	if err := c.svc.MarkConversationRead(ctx, cached.ID, last.Sequence); err != nil {
		return err
	}

	unlock := c.locks.Lock(conversationKey(cached))
	defer unlock()
	if err := c.db.MarkConversationRead(id); err != nil {
		return err
	}
	if _, err := c.db.SetMessageState(cached.ID, last.ID, chat.DeliveryRead); err != nil {
		return err
	}
	return nil
}

// UnreadConversationCount returns how many cached conversations carry
// unread messages. No collaborator call is made.
func (c *Client) UnreadConversationCount() (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	return c.db.UnreadConversationCount()
}

// --- Messages ---

// SendMessage queues a message for delivery. It is immediately visible in
// local listings with state Sending; the Sent or Failed transition
// arrives later as a change event, correlated by the returned local id.
func (c *Client) SendMessage(ctx context.Context, conversationID string, content chat.MessageContent) (*chat.Message, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, &chat.InvalidArgumentError{Field: "conversationID", Reason: "must not be empty"}
	}
	// Reject invalid content before it reaches the store or the wire.
	if _, _, err := chat.EncodeContent(content); err != nil {
		return nil, err
	}

	msg := &chat.Message{
		LocalID:        uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.self(),
		CreatedAt:      time.Now().UnixMilli(),
		State:          chat.DeliverySending,
		Content:        content,
	}

	unlock := c.locks.Lock(conversationID)
	err := c.db.InsertPending(msg)
	if err == nil {
		err = c.db.TouchConversationActivity(conversationID, msg.CreatedAt, 0)
	}
	unlock()
	if err != nil {
		return nil, err
	}
	return c.db.GetMessage(conversationID, msg.LocalID)
}

// FlushOutbox dispatches pending sends immediately instead of waiting for
// the next poll tick.
func (c *Client) FlushOutbox(ctx context.Context) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.sender.ProcessPending(ctx)
	return nil
}

// SendCustomMessage delivers an application-defined payload to a user
// through the collaborator. Nothing is cached.
func (c *Client) SendCustomMessage(ctx context.Context, toUserID string, payload map[string]any) error {
	if err := c.guard(); err != nil {
		return err
	}
	if toUserID == "" {
		return &chat.InvalidArgumentError{Field: "toUserID", Reason: "must not be empty"}
	}
	if payload == nil {
		return &chat.InvalidArgumentError{Field: "payload", Reason: "must not be nil"}
	}
	return c.svc.SendCustomMessage(ctx, toUserID, payload)
}

// ListLocalMessages returns the newest cached messages of a conversation
// in ascending sequence order, pending local sends last. No collaborator
// call is made.
func (c *Client) ListLocalMessages(conversationID string, limit int) ([]*chat.Message, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, &chat.InvalidArgumentError{Field: "conversationID", Reason: "must not be empty"}
	}
	return c.db.ListLocalMessages(conversationID, c.pageLimit(limit))
}

// ListRecentMessages fetches the newest messages from the collaborator,
// merges them into the cache and returns the merged local view.
func (c *Client) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, &chat.InvalidArgumentError{Field: "conversationID", Reason: "must not be empty"}
	}
	limit = c.pageLimit(limit)

	wire, err := c.svc.ListRecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if err := c.mergeWireMessages(conversationID, wire); err != nil {
		return nil, err
	}
	return c.db.ListLocalMessages(conversationID, limit)
}

// ListMessagesBefore returns messages strictly below the sequence anchor,
// newest first, merging a collaborator window into the cache first.
func (c *Client) ListMessagesBefore(ctx context.Context, conversationID string, anchor uint64, limit int) ([]*chat.Message, error) {
	return c.listMessagesWindow(ctx, conversationID, chat.PageQuery{Anchor: int64(anchor), Direction: chat.Before, Limit: c.pageLimit(limit)})
}

// ListMessagesAfter returns messages strictly above the sequence anchor,
// oldest first, merging a collaborator window into the cache first.
func (c *Client) ListMessagesAfter(ctx context.Context, conversationID string, anchor uint64, limit int) ([]*chat.Message, error) {
	return c.listMessagesWindow(ctx, conversationID, chat.PageQuery{Anchor: int64(anchor), Direction: chat.After, Limit: c.pageLimit(limit)})
}

func (c *Client) listMessagesWindow(ctx context.Context, conversationID string, q chat.PageQuery) ([]*chat.Message, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, &chat.InvalidArgumentError{Field: "conversationID", Reason: "must not be empty"}
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	wire, err := c.svc.ListMessages(ctx, conversationID, q)
	if err != nil {
		return nil, err
	}
	if err := c.mergeWireMessages(conversationID, wire); err != nil {
		return nil, err
	}
	return c.db.ListMessagesWindow(conversationID, q)
}

// DeleteMessage deletes a message remotely, then removes the local copy.
// The local copy is only removed on confirmed success.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := c.guard(); err != nil {
		return err
	}
	if conversationID == "" {
		return &chat.InvalidArgumentError{Field: "conversationID", Reason: "must not be empty"}
	}
	if messageID == "" {
		return &chat.InvalidArgumentError{Field: "messageID", Reason: "must not be empty"}
	}

	if err := c.svc.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return err
	}
	unlock := c.locks.Lock(conversationID)
	defer unlock()
	_, err := c.db.DeleteMessage(conversationID, messageID)
	return err
}

// --- Users ---

// GetUser resolves a user's display identity from the directory. Unknown
// users resolve to an id-only record, never an error.
func (c *Client) GetUser(userID string) (chat.User, error) {
	if err := c.guard(); err != nil {
		return chat.User{}, err
	}
	if userID == "" {
		return chat.User{}, &chat.InvalidArgumentError{Field: "userID", Reason: "must not be empty"}
	}
	return c.dir.Resolve(userID), nil
}

// ClearCache wipes the entire local cache and directory. The backend is
// untouched; subsequent fetches repopulate.
func (c *Client) ClearCache() error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.db.ClearAll(); err != nil {
		return err
	}
	c.dir.Invalidate()
	return nil
}

// --- Eventing ---

// EnableEvents opts the outward consumer into the given event names.
func (c *Client) EnableEvents(names ...string) {
	for _, name := range names {
		c.registry.Enable(name)
	}
}

// DisableEvents opts the outward consumer out of the given event names.
func (c *Client) DisableEvents(names ...string) {
	for _, name := range names {
		c.registry.Disable(name)
	}
}

// Events returns a stream of outward events, filtered to the names
// enabled via EnableEvents, and a stop function. Events arriving while
// the consumer lags beyond the buffer are dropped.
func (c *Client) Events() (<-chan EventEnvelope, func()) {
	src, unsub := c.bus.Subscribe("", c.cfg.EventBufferSize)
	out := make(chan EventEnvelope, c.cfg.EventBufferSize)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case evt := <-src:
				name, ok := outwardEvent(evt)
				if !ok || !c.registry.Enabled(name) {
					continue
				}
				select {
				case out <- EventEnvelope{Name: name, OccurredAt: evt.Timestamp, Payload: evt.Payload}:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			unsub()
			close(done)
		})
	}
}

// --- Collaborator glue ---

// HandleNotification is the entry point for raw change pushes from the
// collaborator. Malformed pushes are dropped; the stream continues.
func (c *Client) HandleNotification(n remote.Notification) {
	if err := c.guard(); err != nil {
		return
	}
	c.engine.HandleNotification(n)
}

// NotifyConnected relays the collaborator's connection-established signal.
func (c *Client) NotifyConnected() { c.engine.HandleConnected() }

// NotifyDisconnected relays the collaborator's connection-lost signal.
func (c *Client) NotifyDisconnected() { c.engine.HandleDisconnected() }

// NotifyConnectionError relays a collaborator connection failure.
func (c *Client) NotifyConnectionError(code int, message string) {
	c.engine.HandleConnectionError(code, message)
}

// NotifyTokenExpired relays the collaborator's token-renewal request.
func (c *Client) NotifyTokenExpired() { c.engine.HandleTokenExpiry() }

// NotifyIncomingCall relays an incoming call push untouched.
func (c *Client) NotifyIncomingCall(payload map[string]any) {
	c.engine.HandleIncomingCall(payload)
}

// NotifyCustomMessage relays an application-defined inbound payload.
func (c *Client) NotifyCustomMessage(fromUserID string, payload map[string]any) {
	c.engine.HandleCustomMessage(fromUserID, payload)
}

// --- helpers ---

func (c *Client) pageLimit(limit int) int {
	if limit <= 0 {
		return c.cfg.DefaultPageSize
	}
	return limit
}

func conversationKey(conv *chat.Conversation) string {
	if conv.ID != "" {
		return conv.ID
	}
	return conv.LocalID
}

func (c *Client) mergeConversation(conv *chat.Conversation) (*chat.Conversation, error) {
	if conv == nil {
		return nil, nil
	}
	key := conversationKey(conv)
	unlock := c.locks.Lock(key)
	defer unlock()
	if err := c.db.UpsertConversation(conv); err != nil {
		return nil, err
	}
	return c.db.GetConversation(key)
}

func (c *Client) mergeWireMessages(conversationID string, wire []remote.WireMessage) error {
	unlock := c.locks.Lock(conversationID)
	defer unlock()
	for _, w := range wire {
		msg, err := messageFromWire(w)
		if err != nil {
			// A single undecodable entry does not fail the whole window.
			c.logger.Warn("skipping undecodable message in remote window",
				zap.String("message_id", w.ID), zap.Error(err))
			continue
		}
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		if _, err := c.db.UpsertRemoteMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func messageFromWire(w remote.WireMessage) (*chat.Message, error) {
	content, err := chat.DecodeContent(chat.Kind(w.Type), w.Content)
	if err != nil {
		return nil, err
	}
	return &chat.Message{
		ID:             w.ID,
		LocalID:        w.LocalID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		CreatedAt:      w.CreatedAt,
		Sequence:       w.Sequence,
		State:          chat.DeliveryState(w.State),
		Content:        content,
	}, nil
}
