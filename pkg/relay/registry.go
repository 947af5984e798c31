// Copyright 2024-2026 Aiku AI

package relay

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrUnknownRole is returned when registering a connection under a role the
// registry does not track.
var ErrUnknownRole = errors.New("unknown role")

// Handle sends events to one specific connection. It is owned by the
// transport; the registry only keeps a reference.
type Handle interface {
	Emit(event string, payload any) error
}

// ConnectionEntry describes one identified connection.
type ConnectionEntry struct {
	ID          ConnectionID
	Role        Role
	UserID      string // empty for anonymous clients
	ConnectedAt time.Time
	Handle      Handle
}

// DisplayUser returns the user ID, or "anonymous" when none was supplied.
func (e ConnectionEntry) DisplayUser() string {
	return userOrAnonymous(e.UserID)
}

type registryEntry struct {
	ConnectionEntry
	seq uint64
}

// Registry tracks identified connections per role. A connection ID is held
// by at most one role at a time. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	roles map[Role]map[ConnectionID]*registryEntry
	seq   uint64
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{
		roles: make(map[Role]map[ConnectionID]*registryEntry, len(Roles)),
		now:   time.Now,
	}
	for _, role := range Roles {
		r.roles[role] = make(map[ConnectionID]*registryEntry)
	}
	return r
}

// Register stores the connection under role. Registering an ID that is
// already present overwrites the previous entry; if it was held by the other
// role it is moved.
func (r *Registry) Register(role Role, id ConnectionID, userID string, handle Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.roles[role]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	seq := uint64(0)
	if existing, ok := target[id]; ok {
		seq = existing.seq
	} else {
		for other, entries := range r.roles {
			if other != role {
				delete(entries, id)
			}
		}
		r.seq++
		seq = r.seq
	}

	target[id] = &registryEntry{
		ConnectionEntry: ConnectionEntry{
			ID:          id,
			Role:        role,
			UserID:      userID,
			ConnectedAt: r.now(),
			Handle:      handle,
		},
		seq: seq,
	}
	return nil
}

// Unregister removes the connection from whichever role holds it. The
// boolean is false when the connection was never identified.
func (r *Registry) Unregister(id ConnectionID) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range Roles {
		if _, ok := r.roles[role][id]; ok {
			delete(r.roles[role], id)
			return role, true
		}
	}
	return "", false
}

// Lookup returns the entry for id, if identified.
func (r *Registry) Lookup(id ConnectionID) (ConnectionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range Roles {
		if entry, ok := r.roles[role][id]; ok {
			return entry.ConnectionEntry, true
		}
	}
	return ConnectionEntry{}, false
}

// ListByRole returns a snapshot of the entries for role in insertion order.
// The order is stable for tests; routing must not depend on it.
func (r *Registry) ListByRole(role Role) []ConnectionEntry {
	r.mu.RLock()
	entries := make([]*registryEntry, 0, len(r.roles[role]))
	for _, entry := range r.roles[role] {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *registryEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	out := make([]ConnectionEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry.ConnectionEntry
	}
	return out
}

// CountByRole returns the number of identified connections for role.
func (r *Registry) CountByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles[role])
}

// Counts returns both role counts from a single consistent view.
func (r *Registry) Counts() (extensions, android int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles[RoleExtension]), len(r.roles[RoleAndroid])
}
