package storage

import (
	"context"

	"PulseIM/logger"

	"go.uber.org/zap"
)

// PresenceStore is the set of atomic operations the registry needs from
// the shared store. Add/Remove return the post-operation connection
// count together with whether the member actually changed, in one
// atomic step — the 0→1 / 1→0 broadcast decision depends on both and
// must not be split across two round trips.
type PresenceStore interface {
	AddAndCount(ctx context.Context, userID, connID string) (added bool, count int64, err error)
	RemoveAndCount(ctx context.Context, userID, connID string) (removed bool, count int64, err error)
	// Touch refreshes the liveness TTL on the user's connection set so
	// a set with open connections never lapses between registrations.
	Touch(ctx context.Context, userID string) error
	ListOnline(ctx context.Context) ([]string, error)
}

// Announcer receives the online/offline edge transitions; the gateway
// wires it to the cross-instance event bus.
type Announcer interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

// Registry tracks multi-connection-per-user presence. Store failures
// are logged and swallowed: presence is best-effort and must never
// block connection setup or teardown.
type Registry struct {
	store    PresenceStore
	announce Announcer
}

func NewRegistry(store PresenceStore, announce Announcer) *Registry {
	return &Registry{store: store, announce: announce}
}

// Register records a new live connection; the first connection of a
// user broadcasts a single online transition.
func (r *Registry) Register(ctx context.Context, userID, connID string) {
	added, count, err := r.store.AddAndCount(ctx, userID, connID)
	if err != nil {
		logger.Warn("presence register failed",
			zap.String("user", userID), zap.String("conn", connID), zap.Error(err))
		return
	}
	if added && count == 1 && r.announce != nil {
		r.announce.UserOnline(userID)
	}
}

// Unregister drops a connection; removing the last one broadcasts a
// single offline transition.
func (r *Registry) Unregister(ctx context.Context, userID, connID string) {
	removed, count, err := r.store.RemoveAndCount(ctx, userID, connID)
	if err != nil {
		logger.Warn("presence unregister failed",
			zap.String("user", userID), zap.String("conn", connID), zap.Error(err))
		return
	}
	if removed && count == 0 && r.announce != nil {
		r.announce.UserOffline(userID)
	}
}

// Touch refreshes the store-side liveness TTL for a user with at least
// one open connection; the gateway calls it on every pong.
func (r *Registry) Touch(ctx context.Context, userID string) {
	if err := r.store.Touch(ctx, userID); err != nil {
		logger.Warn("presence touch failed", zap.String("user", userID), zap.Error(err))
	}
}

// ListOnline returns the current contents of the shared online-users
// collection; on store failure it degrades to an empty list.
func (r *Registry) ListOnline(ctx context.Context) []string {
	users, err := r.store.ListOnline(ctx)
	if err != nil {
		logger.Warn("presence list failed", zap.Error(err))
		return []string{}
	}
	if users == nil {
		users = []string{}
	}
	return users
}
