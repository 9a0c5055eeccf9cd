// Package store keeps the client-side seat table for one flight and merges
// its three update sources: full refreshes fetched from the server, pushed
// deltas, and local optimistic edits.  No single source is trusted
// exclusively; the merge rules below restore consistency regardless of
// delivery order.
package store

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

// NoticeFunc receives user-facing notices produced by corrective merges.
type NoticeFunc func(model.Notice)

// Store is the authoritative-on-the-client seat table for one flight.
// Mutation happens only through ApplyFullRefresh, ApplyDelta and
// ApplyOptimistic; collaborators read snapshots and issue commands, never
// touch seat records directly.
type Store struct {
	flightID string
	sel      *SelectionSet
	notify   NoticeFunc

	mu      sync.Mutex
	seats   map[string]*model.Seat
	order   []string            // server ordering from the latest refresh
	pending map[string]struct{} // seats with an operation in flight
}

// New builds an empty store for a flight.  sel must be non-nil; notify may
// be nil, in which case notices are only logged.
func New(flightID string, sel *SelectionSet, notify NoticeFunc) *Store {
	return &Store{
		flightID: flightID,
		sel:      sel,
		notify:   notify,
		seats:    make(map[string]*model.Seat),
		pending:  make(map[string]struct{}),
	}
}

// FlightID returns the flight this store tracks.
func (s *Store) FlightID() string { return s.flightID }

// Selection returns the selection set backing this store.
func (s *Store) Selection() *SelectionSet { return s.sel }

// Snapshot returns the seat table in server order.  The slice and its
// elements are copies; callers can hold them across mutations.
func (s *Store) Snapshot() []model.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Seat, 0, len(s.order))
	for _, id := range s.order {
		if seat, ok := s.seats[id]; ok {
			out = append(out, *seat)
		}
	}
	return out
}

// Seat returns a copy of one seat record.
func (s *Store) Seat(seatID string) (model.Seat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.seats[seatID]
	if !ok {
		return model.Seat{}, false
	}
	return *seat, true
}

// BeginOp claims the per-seat operation guard.  A seat with an operation
// already in flight rejects a second concurrent attempt; two optimistic
// mutations must never race on the same seat.  Callers must pair every
// successful BeginOp with EndOp, normally via defer.
func (s *Store) BeginOp(seatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[seatID]; busy {
		return false
	}
	s.pending[seatID] = struct{}{}
	return true
}

// EndOp releases the per-seat guard regardless of the operation's outcome.
func (s *Store) EndOp(seatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, seatID)
}

// ApplyFullRefresh replaces the table with the server's collection, with one
// exception: every seat currently in the selection set is forced
// unavailable.  The refresh is truth about other seats; it must not override
// this user's in-flight hold, which the server may not have applied yet when
// it answered the fetch.
func (s *Store) ApplyFullRefresh(serverSeats []model.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seats := make(map[string]*model.Seat, len(serverSeats))
	order := make([]string, 0, len(serverSeats))
	for _, srv := range serverSeats {
		seat := srv
		seats[seat.ID] = &seat
		order = append(order, seat.ID)
	}
	for _, id := range s.sel.IDs() {
		if seat, ok := seats[id]; ok && !seat.Booked {
			seat.Available = false
		}
	}
	s.seats = seats
	s.order = order
}

// ApplyDelta merges one pushed update.  Unknown seats are ignored (the next
// refresh carries them), booked seats are terminal, and a delta that takes a
// held seat away from the user evicts it from the selection set and emits
// exactly one notice.  Applying the same delta twice is a no-op the second
// time: the first application already removed the seat from the selection,
// so the eviction branch cannot fire again.
func (s *Store) ApplyDelta(u model.SeatUpdate) {
	if u.FlightID != "" && u.FlightID != s.flightID {
		return
	}
	s.mu.Lock()
	seat, ok := s.seats[u.SeatID]
	if !ok || seat.Booked {
		s.mu.Unlock()
		return
	}
	var notice *model.Notice
	held := s.sel.Contains(u.SeatID)
	switch {
	case u.Status == model.StatusConfirmed:
		seat.Booked = true
		seat.Available = false
		if held && s.sel.Remove(u.SeatID) {
			notice = s.noticeLocked(seat, model.ReasonBookedByOther,
				fmt.Sprintf("seat %s was booked by another passenger", seat.SeatNumber))
		}
	case held && u.Status == model.StatusHoldExpired:
		seat.Available = u.Available
		if s.sel.Remove(u.SeatID) {
			notice = s.noticeLocked(seat, model.ReasonHoldExpired,
				fmt.Sprintf("your hold on seat %s expired", seat.SeatNumber))
		}
	case held && u.Status == model.StatusReleased:
		seat.Available = u.Available
		if s.sel.Remove(u.SeatID) {
			notice = s.noticeLocked(seat, model.ReasonReleasedByServer,
				fmt.Sprintf("seat %s was released", seat.SeatNumber))
		}
	default:
		seat.Available = u.Available
	}
	s.mu.Unlock()
	if notice != nil {
		s.emit(*notice)
	}
}

// ApplyOptimistic sets one seat's availability ahead of server confirmation.
// It returns the previous availability for rollback and false when the seat
// is unknown or already booked.  Callers use it only around command
// issuance, under the BeginOp guard.
func (s *Store) ApplyOptimistic(seatID string, tentativeAvailable bool) (prevAvailable bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, found := s.seats[seatID]
	if !found || seat.Booked {
		return false, false
	}
	prevAvailable = seat.Available
	seat.Available = tentativeAvailable
	return prevAvailable, true
}

// Revert undoes an optimistic mutation after a failed command.
func (s *Store) Revert(seatID string, prevAvailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seat, ok := s.seats[seatID]; ok && !seat.Booked {
		seat.Available = prevAvailable
	}
}

// AddToSelection records a confirmed hold: the seat joins the selection set
// and is pinned unavailable.
func (s *Store) AddToSelection(seatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Add(seatID)
	if seat, ok := s.seats[seatID]; ok && !seat.Booked {
		seat.Available = false
	}
}

// RemoveFromSelection records a voluntary release; no notice is emitted.
func (s *Store) RemoveFromSelection(seatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Remove(seatID)
	if seat, ok := s.seats[seatID]; ok && !seat.Booked {
		seat.Available = true
	}
}

// Evict removes a seat from the selection during reconciliation and emits
// one notice.  It reports whether the seat was actually held, so repeated
// reconciliation passes stay silent.
func (s *Store) Evict(seatID string, reason model.NoticeReason, msg string) bool {
	s.mu.Lock()
	if !s.sel.Remove(seatID) {
		s.mu.Unlock()
		return false
	}
	seat := s.seats[seatID]
	if seat == nil {
		seat = &model.Seat{ID: seatID}
	}
	notice := s.noticeLocked(seat, reason, msg)
	s.mu.Unlock()
	s.emit(*notice)
	return true
}

func (s *Store) noticeLocked(seat *model.Seat, reason model.NoticeReason, msg string) *model.Notice {
	return &model.Notice{
		FlightID:   s.flightID,
		SeatID:     seat.ID,
		SeatNumber: seat.SeatNumber,
		Reason:     reason,
		Message:    msg,
		OccurredAt: time.Now(),
	}
}

func (s *Store) emit(n model.Notice) {
	if s.notify != nil {
		s.notify(n)
		return
	}
	log.Printf("store: flight=%s seat=%s %s: %s", n.FlightID, n.SeatID, n.Reason, n.Message)
}
