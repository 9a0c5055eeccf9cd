// Package reconcile runs the timed passes that re-derive seat truth from
// the server and resolve drift.  The transport guarantees no ordering, so
// correctness comes from the union of four independent, idempotent
// behaviors running on different cadences rather than from trusting any
// single update source.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
	"github.com/iliyamo/flight-seat-sync/internal/store"
)

// Fetcher fetches the full seat table for a flight.
type Fetcher interface {
	FlightSeats(ctx context.Context, flightID string) ([]model.Seat, error)
}

// Connection is the slice of the connection manager the scheduler needs for
// the stale-connection guard.
type Connection interface {
	IsConnected() bool
	LastConnectedAt() time.Time
	ForceReconnect(ctx context.Context) error
}

// Options tunes the scheduler's cadences.  Zero values fall back to the
// production settings: refresh 5s, verification throttle 2s, deep sync 15s,
// stale connection 2min.
type Options struct {
	RefreshEvery  time.Duration
	VerifyMinGap  time.Duration
	DeepSyncEvery time.Duration
	StaleAfter    time.Duration
}

func (o *Options) fill() {
	if o.RefreshEvery <= 0 {
		o.RefreshEvery = 5 * time.Second
	}
	if o.VerifyMinGap <= 0 {
		o.VerifyMinGap = 2 * time.Second
	}
	if o.DeepSyncEvery <= 0 {
		o.DeepSyncEvery = 15 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 2 * time.Minute
	}
}

// Reconciler drives the four timed behaviors for one flight.  All passes
// are idempotent and side-effect-free when nothing changed; every mutation
// goes through the store's sanctioned entry points.
type Reconciler struct {
	flightID string
	st       *store.Store
	fetch    Fetcher
	conn     Connection
	opts     Options

	mu         sync.Mutex
	lastVerify time.Time

	wake chan struct{}
}

// New builds a reconciler.  conn may be nil when no stale guard is wanted
// (unit tests).
func New(flightID string, st *store.Store, fetch Fetcher, conn Connection, opts Options) *Reconciler {
	opts.fill()
	return &Reconciler{
		flightID: flightID,
		st:       st,
		fetch:    fetch,
		conn:     conn,
		opts:     opts,
		wake:     make(chan struct{}, 1),
	}
}

// Run loops the timed passes until ctx is cancelled.  It is meant to run on
// its own goroutine, one per subscribed flight.
func (r *Reconciler) Run(ctx context.Context) {
	refresh := time.NewTicker(r.opts.RefreshEvery)
	deep := time.NewTicker(r.opts.DeepSyncEvery)
	defer refresh.Stop()
	defer deep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			r.checkStale(ctx)
			if err := r.FullRefresh(ctx); err != nil {
				log.Printf("reconcile: flight=%s refresh: %v", r.flightID, err)
			}
		case <-deep.C:
			if err := r.DeepSync(ctx); err != nil {
				log.Printf("reconcile: flight=%s deep sync: %v", r.flightID, err)
			}
		case <-r.wake:
			// A sibling tab changed something: re-verify right away
			// instead of waiting for the next tick.
			if err := r.VerifySelection(ctx); err != nil {
				log.Printf("reconcile: flight=%s verify: %v", r.flightID, err)
			}
			if err := r.DeepSync(ctx); err != nil {
				log.Printf("reconcile: flight=%s deep sync: %v", r.flightID, err)
			}
		}
	}
}

// WakeUp requests an immediate verification pass, typically on a cross-tab
// signal.  Coalesces when one is already queued.
func (r *Reconciler) WakeUp() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// FullRefresh fetches the seat table and adopts it through the store's
// merge (selection seats stay pinned unavailable).
func (r *Reconciler) FullRefresh(ctx context.Context) error {
	seats, err := r.fetch.FlightSeats(ctx, r.flightID)
	if err != nil {
		return err
	}
	r.st.ApplyFullRefresh(seats)
	return nil
}

// VerifySelection refetches the table and evicts any held seat that is now
// booked or no longer exists on the server, emitting one notice per evicted
// seat.  Calls are throttled to one per VerifyMinGap; a throttled call is a
// successful no-op.
func (r *Reconciler) VerifySelection(ctx context.Context) error {
	r.mu.Lock()
	if time.Since(r.lastVerify) < r.opts.VerifyMinGap {
		r.mu.Unlock()
		return nil
	}
	r.lastVerify = time.Now()
	r.mu.Unlock()

	held := r.st.Selection().IDs()
	if len(held) == 0 {
		return nil
	}
	seats, err := r.fetch.FlightSeats(ctx, r.flightID)
	if err != nil {
		return err
	}
	byID := make(map[string]model.Seat, len(seats))
	for _, seat := range seats {
		byID[seat.ID] = seat
	}
	for _, id := range held {
		srv, ok := byID[id]
		switch {
		case !ok:
			r.st.Evict(id, model.ReasonMissingFromServer,
				fmt.Sprintf("seat %s no longer exists on this flight", id))
		case srv.Booked:
			r.st.Evict(id, model.ReasonBookedByOther,
				fmt.Sprintf("seat %s was booked by another passenger", srv.SeatNumber))
		}
	}
	return nil
}

// DeepSync detects any divergence between the server's table and the local
// record.  A held seat found booked by someone else is evicted with a
// notice; afterwards the server's table is adopted wholesale, which re-pins
// the remaining selection to unavailable.
func (r *Reconciler) DeepSync(ctx context.Context) error {
	seats, err := r.fetch.FlightSeats(ctx, r.flightID)
	if err != nil {
		return err
	}
	diverged := false
	for _, srv := range seats {
		local, ok := r.st.Seat(srv.ID)
		if !ok {
			diverged = true
			continue
		}
		held := r.st.Selection().Contains(srv.ID)
		if srv.Booked && held {
			r.st.Evict(srv.ID, model.ReasonBookedByOther,
				fmt.Sprintf("seat %s was booked by another passenger", srv.SeatNumber))
			diverged = true
			continue
		}
		// A held seat is deliberately pinned locally; an availability
		// mismatch there is expected, not drift.
		if !held && (local.Available != srv.Available || local.Booked != srv.Booked) {
			diverged = true
		}
	}
	if diverged || len(seats) != len(r.st.Snapshot()) {
		r.st.ApplyFullRefresh(seats)
	}
	return nil
}

// checkStale forces a reconnect when the connection's last success is older
// than the stale threshold, so the next refresh runs against a live
// transport.
func (r *Reconciler) checkStale(ctx context.Context) {
	if r.conn == nil {
		return
	}
	last := r.conn.LastConnectedAt()
	if last.IsZero() || time.Since(last) < r.opts.StaleAfter || r.conn.IsConnected() {
		return
	}
	log.Printf("reconcile: flight=%s connection stale since %s, forcing reconnect", r.flightID, last.Format(time.RFC3339))
	if err := r.conn.ForceReconnect(ctx); err != nil {
		log.Printf("reconcile: flight=%s forced reconnect: %v", r.flightID, err)
	}
}
