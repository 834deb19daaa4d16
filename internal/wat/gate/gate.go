// Package gate implements the access-control gate in front of the matching
// core: an owner-managed whitelist of user ids.
//
// Authorize is on the hot path (once per inbound chat event) and reads a
// copy-on-write snapshot without locking. Mutations are owner-only, serialize
// on a mutex, and swap in a fresh snapshot, so a concurrent Authorize never
// observes a half-applied change and two racing AddUser calls cannot produce
// conflicting outcomes.
package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/rmedgar/nekowat/pkg/errors"
)

// Entry is one whitelisted user with display metadata.
type Entry struct {
	UserID  int64     `json:"user_id"`
	Name    string    `json:"name"`
	AddedAt time.Time `json:"added_at"`
}

// Store persists whitelist mutations. Implementations must be safe for the
// gate's serialized writer; the gate never reads back through the store after
// construction.
type Store interface {
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, userID int64) error
}

// Config supplies the gate's fixed policy at construction. Enabled is
// process-wide and not mutable at runtime; Entries seeds the whitelist
// (typically loaded from the store by the caller).
type Config struct {
	Owner   int64
	Enabled bool
	Entries []Entry
	Store   Store
}

// Gate holds the whitelist and the owner identity. The owner is implicitly
// authorized whether or not an explicit entry exists, and can never be
// removed.
type Gate struct {
	owner   int64
	enabled bool
	store   Store

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[map[int64]Entry]
}

func New(cfg Config) *Gate {
	entries := make(map[int64]Entry, len(cfg.Entries))
	for _, e := range cfg.Entries {
		entries[e.UserID] = e
	}
	g := &Gate{
		owner:   cfg.Owner,
		enabled: cfg.Enabled,
		store:   cfg.Store,
	}
	g.snap.Store(&entries)
	return g
}

// Authorize reports whether userID may use the bot. With the whitelist
// disabled every user is authorized; with it enabled, only the owner and
// explicitly whitelisted users are.
func (g *Gate) Authorize(userID int64) bool {
	if !g.enabled || userID == g.owner {
		return true
	}
	entries := *g.snap.Load()
	_, ok := entries[userID]
	return ok
}

// IsOwner reports whether userID is the distinguished owner.
func (g *Gate) IsOwner(userID int64) bool {
	return userID == g.owner
}

// Enabled reports whether the whitelist is enforced.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// AddUser whitelists targetID. Only the owner may call it; adding an already
// present user fails. The entry is persisted before it becomes visible to
// Authorize.
func (g *Gate) AddUser(ctx context.Context, requesterID, targetID int64, name string) (Entry, error) {
	if requesterID != g.owner {
		return Entry{}, fmt.Errorf("%w: user %d is not the owner", apperrors.ErrPermissionDenied, requesterID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.snap.Load()
	if _, exists := cur[targetID]; exists {
		return Entry{}, fmt.Errorf("%w: user %d", apperrors.ErrAlreadyWhitelisted, targetID)
	}

	entry := Entry{UserID: targetID, Name: name, AddedAt: time.Now().UTC()}
	if g.store != nil {
		if err := g.store.Put(ctx, entry); err != nil {
			return Entry{}, fmt.Errorf("persisting whitelist entry for %d: %w", targetID, err)
		}
	}

	next := cloneEntries(cur)
	next[targetID] = entry
	g.snap.Store(&next)
	return entry, nil
}

// RemoveUser removes targetID from the whitelist. Only the owner may call
// it, and the owner itself can never be removed.
func (g *Gate) RemoveUser(ctx context.Context, requesterID, targetID int64) error {
	if requesterID != g.owner {
		return fmt.Errorf("%w: user %d is not the owner", apperrors.ErrPermissionDenied, requesterID)
	}
	if targetID == g.owner {
		return fmt.Errorf("%w: user %d", apperrors.ErrOwnerProtected, targetID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.snap.Load()
	if _, exists := cur[targetID]; !exists {
		return fmt.Errorf("%w: user %d not whitelisted", apperrors.ErrNotFound, targetID)
	}
	if g.store != nil {
		if err := g.store.Delete(ctx, targetID); err != nil {
			return fmt.Errorf("deleting whitelist entry for %d: %w", targetID, err)
		}
	}

	next := cloneEntries(cur)
	delete(next, targetID)
	g.snap.Store(&next)
	return nil
}

// ListUsers returns the whitelist ordered by added-at then id. Owner-only.
func (g *Gate) ListUsers(requesterID int64) ([]Entry, error) {
	if requesterID != g.owner {
		return nil, fmt.Errorf("%w: user %d is not the owner", apperrors.ErrPermissionDenied, requesterID)
	}
	cur := *g.snap.Load()
	entries := make([]Entry, 0, len(cur))
	for _, e := range cur {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].AddedAt.Before(entries[j].AddedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries, nil
}

// Size reports the number of explicit whitelist entries.
func (g *Gate) Size() int {
	return len(*g.snap.Load())
}

func cloneEntries(src map[int64]Entry) map[int64]Entry {
	dst := make(map[int64]Entry, len(src)+1)
	for id, e := range src {
		dst[id] = e
	}
	return dst
}
