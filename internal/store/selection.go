package store

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/storage"
)

// SelectionSet is the ordered list of seat ids the user currently holds on
// one flight.  It grows and shrinks only through confirmed commands and
// corrective reconciliation.  Every change is persisted to a per-flight slot
// in the shared store so a reload or a sibling tab rehydrates the same view;
// persistence is best effort and never blocks correctness.
type SelectionSet struct {
	mu     sync.Mutex
	ids    []string
	slot   string
	shared storage.SharedStore // nil disables persistence
}

// selectionSlot returns the shared-store slot for one user's selection on
// one flight.
func selectionSlot(userID, flightID string) string {
	return "seatsync:sel:" + userID + ":" + flightID
}

// LoadSelection builds a SelectionSet seeded from the shared store.  With a
// nil store, or when the slot is empty or unreadable, it starts empty.
func LoadSelection(ctx context.Context, shared storage.SharedStore, userID, flightID string) *SelectionSet {
	s := &SelectionSet{slot: selectionSlot(userID, flightID), shared: shared}
	if shared == nil {
		return s
	}
	v, ok, err := shared.Get(ctx, s.slot)
	if err != nil {
		log.Printf("selection: rehydrate %s: %v", s.slot, err)
		return s
	}
	if ok && v != "" {
		s.ids = strings.Split(v, ",")
	}
	return s
}

// Contains reports whether the seat is currently held.
func (s *SelectionSet) Contains(seatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.ids {
		if id == seatID {
			return true
		}
	}
	return false
}

// IDs returns a copy of the held seat ids in selection order.
func (s *SelectionSet) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of held seats.
func (s *SelectionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Add appends the seat if absent and persists the set.
func (s *SelectionSet) Add(seatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.ids {
		if id == seatID {
			return
		}
	}
	s.ids = append(s.ids, seatID)
	s.persistLocked()
}

// Remove evicts the seat and persists the set.  It reports whether the seat
// was present, which is what makes downstream notices exactly-once.
func (s *SelectionSet) Remove(seatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.ids {
		if id == seatID {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			s.persistLocked()
			return true
		}
	}
	return false
}

// persistLocked writes the current set to the shared slot.  Failures are
// logged only; the in-memory set is authoritative for this tab.
func (s *SelectionSet) persistLocked() {
	if s.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var err error
	if len(s.ids) == 0 {
		err = s.shared.Del(ctx, s.slot)
	} else {
		err = s.shared.Set(ctx, s.slot, strings.Join(s.ids, ","))
	}
	if err != nil {
		log.Printf("selection: persist %s: %v", s.slot, err)
	}
}
