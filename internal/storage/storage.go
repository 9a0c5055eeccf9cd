// Package storage provides the shared, user-scoped store that stands in for
// the browser's origin-scoped storage: small key/value slots shared by every
// tab of one user, plus a change-notification channel that lets one tab wake
// its siblings.  Notifications are wake-up signals only; nothing here is a
// source of seat truth.
package storage

import (
	"context"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

// SharedStore is the capability the engine needs from shared storage.  Two
// implementations exist: a Redis-backed one for real multi-tab operation and
// an in-memory one for tests and single-tab runs.
//
// All methods must be safe for concurrent use.  A nil SharedStore is a valid
// configuration everywhere one is accepted; consumers treat it as "feature
// disabled".
type SharedStore interface {
	// Get returns the value of a slot and whether the slot exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes a slot.
	Set(ctx context.Context, key, value string) error
	// SetTransient writes a slot that disappears after ttl.
	SetTransient(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes a slot; removing an absent slot is not an error.
	Del(ctx context.Context, key string) error
	// Publish pushes a broadcast record onto the change channel.
	Publish(ctx context.Context, rec model.BroadcastRecord) error
	// Observe registers a callback for records published by any instance,
	// this one included; filtering out self-originated records is the
	// caller's job.  The returned cancel stops delivery.
	Observe(fn func(model.BroadcastRecord)) (cancel func(), err error)
	// Close releases the underlying resources.
	Close() error
}
