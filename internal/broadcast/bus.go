// Package broadcast propagates local seat select/release intents to sibling
// tabs of the same user through the shared store.  A record is a wake-up
// signal only — receivers re-verify against the server instead of trusting
// the payload, because the channel guarantees neither ordering nor
// backpressure across tabs.
package broadcast

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/flight-seat-sync/internal/model"
	"github.com/iliyamo/flight-seat-sync/internal/storage"
)

const (
	// recordTTL keeps the transient record visible just long enough for
	// sibling tabs to notice it.
	recordTTL = 150 * time.Millisecond
	// throttleGap bounds outgoing writes to one per 500ms, preventing
	// feedback loops between tabs reacting to each other.
	throttleGap = 500 * time.Millisecond
)

// WakeFunc is called with the flight id of a record written by another tab.
type WakeFunc func(flightID string)

// Bus writes and observes cross-tab broadcast records.
type Bus struct {
	shared storage.SharedStore // nil disables the bus entirely
	origin string
	onWake WakeFunc

	mu       sync.Mutex
	lastSent time.Time
	cancel   func()
}

// New builds a bus over the shared store.  onWake runs on the observer
// goroutine whenever another instance broadcasts; it should only schedule
// work.  A nil shared store yields a bus whose methods are no-ops.
func New(shared storage.SharedStore, onWake WakeFunc) *Bus {
	return &Bus{
		shared: shared,
		origin: uuid.NewString(),
		onWake: onWake,
	}
}

// Origin returns this instance's identity on the channel.
func (b *Bus) Origin() string { return b.origin }

// Start begins observing the channel.  Records this instance wrote are
// ignored; everything else triggers the wake callback for its flight.
func (b *Bus) Start() error {
	if b.shared == nil {
		return nil
	}
	cancel, err := b.shared.Observe(func(rec model.BroadcastRecord) {
		if rec.Origin == b.origin {
			return
		}
		if b.onWake != nil {
			b.onWake(rec.FlightID)
		}
	})
	if err != nil {
		return fmt.Errorf("observe shared channel: %w", err)
	}
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	return nil
}

// Stop ends observation.  Safe to call without Start.
func (b *Bus) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Broadcast writes a short-lived record describing a local seat action and
// notifies the channel.  Writes are throttled; a throttled call is dropped
// silently, which is fine for a wake-up hint — the periodic reconciliation
// passes cover whatever the dropped signal would have.
func (b *Bus) Broadcast(ctx context.Context, flightID, seatID, action string) {
	if b.shared == nil {
		return
	}
	b.mu.Lock()
	if time.Since(b.lastSent) < throttleGap {
		b.mu.Unlock()
		return
	}
	b.lastSent = time.Now()
	b.mu.Unlock()

	rec := model.BroadcastRecord{
		FlightID:  flightID,
		SeatID:    seatID,
		Action:    action,
		Origin:    b.origin,
		Timestamp: time.Now().UnixMilli(),
	}
	key := fmt.Sprintf("seatsync:bus:%s:%s", flightID, seatID)
	if err := b.shared.SetTransient(ctx, key, action, recordTTL); err != nil {
		log.Printf("broadcast: write record: %v", err)
	}
	if err := b.shared.Publish(ctx, rec); err != nil {
		log.Printf("broadcast: publish: %v", err)
	}
}
