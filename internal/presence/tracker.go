// Package presence keeps per-user online state in step with live connections.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/metrics"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"go.uber.org/zap"
)

// Store persists presence. Implemented by sqlstore.Store and RedisStore.
type Store interface {
	SetOnline(ctx context.Context, username string, at time.Time) error
	SetOffline(ctx context.Context, username string, at time.Time) error
	Presence(ctx context.Context, username string) (*store.Presence, error)
}

type entry struct {
	mu    sync.Mutex
	conns int
	refs  int // guarded by Tracker.mu
}

// Tracker counts live connections per user. A user is written offline only
// when the last of their connections goes away.
type Tracker struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu    sync.Mutex
	users map[string]*entry
}

func NewTracker(s Store, log *zap.Logger) *Tracker {
	return &Tracker{
		store: s,
		log:   log.Named("presence"),
		now:   func() time.Time { return time.Now().UTC() },
		users: map[string]*entry{},
	}
}

// acquire pins the user's entry so it is not dropped while in use.
func (t *Tracker) acquire(username string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.users[username]
	if !ok {
		e = &entry{}
		t.users[username] = e
	}
	e.refs++
	return e
}

// release unpins e and forgets the user once nobody holds the entry and no
// connection is left.
func (t *Tracker) release(username string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.conns == 0 {
		delete(t.users, username)
	}
}

// Connect registers one more live connection and marks the user online.
func (t *Tracker) Connect(ctx context.Context, username string) error {
	e := t.acquire(username)
	defer t.release(username, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.conns++
	if e.conns == 1 {
		metrics.UsersOnline.Inc()
	}
	if err := t.store.SetOnline(ctx, username, t.now()); err != nil {
		return fmt.Errorf("failed to set %s online: %w", username, err)
	}
	return nil
}

// Disconnect drops one live connection. It reports offline=true when that was
// the last one, in which case last-seen has been written as now.
func (t *Tracker) Disconnect(ctx context.Context, username string) (bool, error) {
	e := t.acquire(username)
	defer t.release(username, e)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conns > 0 {
		e.conns--
		if e.conns == 0 {
			metrics.UsersOnline.Dec()
		}
	}
	if e.conns > 0 {
		return false, nil
	}
	at := t.now()
	if err := t.store.SetOffline(ctx, username, at); err != nil {
		return true, fmt.Errorf("failed to set %s offline: %w", username, err)
	}
	t.log.Debug("user offline", zap.String("user", username), zap.Time("last_seen", at))
	return true, nil
}

func (t *Tracker) Connections(username string) int {
	t.mu.Lock()
	e, ok := t.users[username]
	if !ok {
		t.mu.Unlock()
		return 0
	}
	e.refs++
	t.mu.Unlock()
	defer t.release(username, e)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns
}

// tracked is the number of users with an entry.
func (t *Tracker) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

func (t *Tracker) Online(username string) bool { return t.Connections(username) > 0 }

// Lookup reads the persisted presence for username.
func (t *Tracker) Lookup(ctx context.Context, username string) (*store.Presence, error) {
	return t.store.Presence(ctx, username)
}
