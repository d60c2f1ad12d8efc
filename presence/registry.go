// Package presence coordinates live connections, typing state and message
// delivery. Registry, Tracker and the delivery half of Router are owned by a
// single Hub goroutine and are not safe for concurrent use on their own.
package presence

import (
	"context"
	"sort"

	"pairchat/models"
	"pairchat/protocol"
)

// Handle is one live bidirectional connection.
type Handle interface {
	ID() string
	// Send queues a notification. It must not block.
	Send(ev protocol.Outbound) error
}

// Gateway reads and writes the whole persisted snapshot.
type Gateway interface {
	Load(ctx context.Context) (*models.Snapshot, error)
	Save(ctx context.Context, snap *models.Snapshot) error
}

// Registry maps a user to its active handle. One entry per user, one user
// per handle; the latest registration wins.
type Registry struct {
	byUser   map[int64]Handle
	byHandle map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[int64]Handle),
		byHandle: make(map[string]int64),
	}
}

func (r *Registry) Register(userID int64, h Handle) {
	if prev, ok := r.byHandle[h.ID()]; ok && prev != userID {
		delete(r.byUser, prev)
	}
	if old, ok := r.byUser[userID]; ok && old.ID() != h.ID() {
		delete(r.byHandle, old.ID())
	}

	r.byUser[userID] = h
	r.byHandle[h.ID()] = userID
}

func (r *Registry) Lookup(userID int64) (Handle, bool) {
	h, ok := r.byUser[userID]
	return h, ok
}

// UnregisterByHandle drops the entry bound to h and returns the freed user.
// A handle superseded by a newer registration matches nothing.
func (r *Registry) UnregisterByHandle(h Handle) (int64, bool) {
	userID, ok := r.byHandle[h.ID()]
	if !ok {
		return 0, false
	}
	delete(r.byHandle, h.ID())
	delete(r.byUser, userID)
	return userID, true
}

func (r *Registry) Len() int {
	return len(r.byUser)
}

// Users returns the connected user ids in ascending order.
func (r *Registry) Users() []int64 {
	users := make([]int64, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}
