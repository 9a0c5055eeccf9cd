// Package engine assembles the sync components into the surface the booking
// collaborator consumes: subscribe/unsubscribe per flight, select/release
// per seat, connectivity state, and a stream of user-facing notices.  One
// engine instance represents one tab; sibling tabs coordinate through the
// shared store.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/broadcast"
	"github.com/iliyamo/flight-seat-sync/internal/config"
	"github.com/iliyamo/flight-seat-sync/internal/fetch"
	"github.com/iliyamo/flight-seat-sync/internal/identity"
	"github.com/iliyamo/flight-seat-sync/internal/model"
	"github.com/iliyamo/flight-seat-sync/internal/realtime"
	"github.com/iliyamo/flight-seat-sync/internal/reconcile"
	"github.com/iliyamo/flight-seat-sync/internal/storage"
	"github.com/iliyamo/flight-seat-sync/internal/store"
)

// session is the per-flight state: the seat table, its reconciler, and the
// reconciler's lifetime.
type session struct {
	store  *store.Store
	rec    *reconcile.Reconciler
	cancel context.CancelFunc
}

// Engine owns the connection manager, the command channel, the cross-tab
// bus, and one session per subscribed flight.
type Engine struct {
	cfg     config.Config
	conn    *realtime.Manager
	cmds    *realtime.Commands
	fetcher *fetch.Client
	shared  storage.SharedStore
	bus     *broadcast.Bus
	userID  string

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	notices chan model.Notice
}

// New constructs an engine from configuration.  shared may be nil: the
// engine then runs without cross-tab signaling and selection persistence
// but is otherwise fully functional.
func New(cfg config.Config, shared storage.SharedStore) *Engine {
	e := &Engine{
		cfg:      cfg,
		shared:   shared,
		fetcher:  fetch.New(cfg.ServerBaseURL),
		sessions: make(map[string]*session),
		notices:  make(chan model.Notice, 64),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	e.userID = identity.Resolve(ctx, cfg.AccessToken, shared)
	cancel()
	e.conn = realtime.NewManager(realtime.Options{
		URL:           cfg.SocketURL,
		Heartbeat:     cfg.Heartbeat,
		BackoffBase:   cfg.BackoffBase,
		BackoffMax:    cfg.BackoffMax,
		MaxReconnects: cfg.MaxReconnects,
		OnDown: func(reason string) {
			e.emit(model.Notice{
				Reason:     model.ReasonConnectionLost,
				Message:    "connection to the seat server was lost: " + reason,
				OccurredAt: time.Now(),
			})
		},
	})
	e.cmds = realtime.NewCommands(e.conn, e.userID, cfg.CommandTries, cfg.CommandRetry)
	e.bus = broadcast.New(shared, e.wakeFlight)
	return e
}

// Start connects to the server and begins observing the cross-tab channel.
// A failed initial connect is not fatal: the manager keeps retrying in the
// background and subscriptions issued meanwhile replay once it succeeds.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.bus.Start(); err != nil {
		log.Printf("engine: cross-tab observer disabled: %v", err)
	}
	if err := e.conn.Connect(ctx); err != nil {
		return fmt.Errorf("initial connect: %w", err)
	}
	return nil
}

// UserID returns the identity attached to this engine's commands.
func (e *Engine) UserID() string { return e.userID }

// IsConnected reports current transport connectivity.
func (e *Engine) IsConnected() bool { return e.conn.IsConnected() }

// ForceReconnect tears down and re-establishes the connection.
func (e *Engine) ForceReconnect(ctx context.Context) error { return e.conn.ForceReconnect(ctx) }

// Notices returns the stream of user-facing notices.  Delivery never blocks
// the engine: when the buffer is full the oldest notice is dropped.
func (e *Engine) Notices() <-chan model.Notice { return e.notices }

// Seats returns the current seat table snapshot for a subscribed flight, in
// server order.  Nil when the flight is not subscribed.
func (e *Engine) Seats(flightID string) []model.Seat {
	if s := e.session(flightID); s != nil {
		return s.store.Snapshot()
	}
	return nil
}

// Selection returns the ids of the seats the user currently holds on a
// flight, in selection order.
func (e *Engine) Selection(flightID string) []string {
	if s := e.session(flightID); s != nil {
		return s.store.Selection().IDs()
	}
	return nil
}

// Subscribe starts tracking a flight: it rehydrates the user's selection
// from the shared store, registers the push callback, fetches the initial
// table, and starts the reconciliation runner.  It is idempotent per
// flight.  The boolean mirrors whether the live connection accepted the
// topic subscription; on false the registration is kept and replayed on the
// next reconnect, so callers may simply retry or wait.
func (e *Engine) Subscribe(ctx context.Context, flightID string, onUpdate realtime.UpdateHandler) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	sess, exists := e.sessions[flightID]
	if !exists {
		sel := store.LoadSelection(ctx, e.shared, e.userID, flightID)
		st := store.New(flightID, sel, e.emit)
		rec := reconcile.New(flightID, st, e.fetcher, e.conn, reconcile.Options{
			RefreshEvery:  e.cfg.RefreshEvery,
			VerifyMinGap:  e.cfg.VerifyMinGap,
			DeepSyncEvery: e.cfg.DeepSyncEvery,
			StaleAfter:    e.cfg.StaleAfter,
		})
		runCtx, cancel := context.WithCancel(context.Background())
		sess = &session{store: st, rec: rec, cancel: cancel}
		e.sessions[flightID] = sess
		go rec.Run(runCtx)
	}
	e.mu.Unlock()

	st := sess.store
	ok := e.conn.Subscribe(flightID, func(u model.SeatUpdate) {
		st.ApplyDelta(u)
		if onUpdate != nil {
			onUpdate(u)
		}
	})
	if !exists {
		if err := sess.rec.FullRefresh(ctx); err != nil {
			log.Printf("engine: flight=%s initial refresh: %v", flightID, err)
		}
	}
	return ok
}

// Unsubscribe stops tracking a flight: push delivery ends, the reconciler
// stops, and the session is discarded.  Safe to call when not subscribed.
// The persisted selection slot is left intact so a resubscribe rehydrates.
func (e *Engine) Unsubscribe(flightID string) {
	e.conn.Unsubscribe(flightID)
	e.mu.Lock()
	sess := e.sessions[flightID]
	delete(e.sessions, flightID)
	e.mu.Unlock()
	if sess != nil {
		sess.cancel()
	}
}

// Select holds a seat for this user.  The sequence is: claim the per-seat
// guard, mutate optimistically, send the command, then either record the
// hold and wake sibling tabs or roll back and notify.  The boolean is the
// single source of truth for the caller.
func (e *Engine) Select(ctx context.Context, seatID, flightID string) bool {
	sess := e.session(flightID)
	if sess == nil {
		log.Printf("engine: select %s on unsubscribed flight %s", seatID, flightID)
		return false
	}
	st := sess.store
	if !st.BeginOp(seatID) {
		log.Printf("engine: seat %s already has an operation in flight", seatID)
		return false
	}
	defer st.EndOp(seatID)

	seat, ok := st.Seat(seatID)
	if !ok || seat.Booked {
		return false
	}
	if st.Selection().Contains(seatID) {
		return true // already held by this user
	}
	if !seat.Available {
		return false
	}
	prev, ok := st.ApplyOptimistic(seatID, false)
	if !ok {
		return false
	}
	if !e.cmds.Select(ctx, seatID, flightID) {
		st.Revert(seatID, prev)
		e.emit(model.Notice{
			FlightID:   flightID,
			SeatID:     seatID,
			SeatNumber: seat.SeatNumber,
			Reason:     model.ReasonCommandFailed,
			Message:    fmt.Sprintf("could not reserve seat %s, please try again", seat.SeatNumber),
			OccurredAt: time.Now(),
		})
		return false
	}
	st.AddToSelection(seatID)
	e.bus.Broadcast(ctx, flightID, seatID, "select")
	return true
}

// Release frees a seat this user holds.  Symmetric to Select.
func (e *Engine) Release(ctx context.Context, seatID, flightID string) bool {
	sess := e.session(flightID)
	if sess == nil {
		log.Printf("engine: release %s on unsubscribed flight %s", seatID, flightID)
		return false
	}
	st := sess.store
	if !st.Selection().Contains(seatID) {
		return false
	}
	if !st.BeginOp(seatID) {
		log.Printf("engine: seat %s already has an operation in flight", seatID)
		return false
	}
	defer st.EndOp(seatID)

	seat, _ := st.Seat(seatID)
	prev, ok := st.ApplyOptimistic(seatID, true)
	if !ok {
		return false
	}
	if !e.cmds.Release(ctx, seatID, flightID) {
		st.Revert(seatID, prev)
		e.emit(model.Notice{
			FlightID:   flightID,
			SeatID:     seatID,
			SeatNumber: seat.SeatNumber,
			Reason:     model.ReasonCommandFailed,
			Message:    fmt.Sprintf("could not release seat %s, please try again", seat.SeatNumber),
			OccurredAt: time.Now(),
		})
		return false
	}
	st.RemoveFromSelection(seatID)
	e.bus.Broadcast(ctx, flightID, seatID, "release")
	return true
}

// Shutdown stops every session, the bus observer, and the connection.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sessions := e.sessions
	e.sessions = make(map[string]*session)
	e.mu.Unlock()
	for _, sess := range sessions {
		sess.cancel()
	}
	e.bus.Stop()
	e.conn.Shutdown()
}

func (e *Engine) session(flightID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[flightID]
}

// wakeFlight reacts to a cross-tab record: if the flight is subscribed
// here, its reconciler re-verifies immediately.  The record's payload is
// never applied directly.
func (e *Engine) wakeFlight(flightID string) {
	if sess := e.session(flightID); sess != nil {
		sess.rec.WakeUp()
	}
}

// emit logs a notice and offers it to the consumer, dropping the oldest
// buffered notice under pressure.
func (e *Engine) emit(n model.Notice) {
	log.Printf("engine: notice flight=%s seat=%s %s: %s", n.FlightID, n.SeatID, n.Reason, n.Message)
	select {
	case e.notices <- n:
		return
	default:
	}
	select {
	case <-e.notices:
	default:
	}
	select {
	case e.notices <- n:
	default:
	}
}
