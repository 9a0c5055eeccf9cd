package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
	"github.com/iliyamo/flight-seat-sync/internal/store"
)

// fakeFetcher serves a settable seat table and counts fetches.
type fakeFetcher struct {
	mu    sync.Mutex
	seats []model.Seat
	err   error
	calls int
}

func (f *fakeFetcher) set(seats []model.Seat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seats = seats
}

func (f *fakeFetcher) FlightSeats(_ context.Context, _ string) ([]model.Seat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Seat, len(f.seats))
	copy(out, f.seats)
	return out, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeConn implements Connection with settable state.
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	last      time.Time
	forced    int
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) LastConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *fakeConn) ForceReconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forced++
	c.connected = true
	c.last = time.Now()
	return nil
}

func table() []model.Seat {
	return []model.Seat{
		{ID: "a", SeatNumber: "1A", Available: true},
		{ID: "b", SeatNumber: "1B", Available: true},
		{ID: "c", SeatNumber: "1C", Available: false},
	}
}

func newRig(t *testing.T, opts Options) (*Reconciler, *store.Store, *fakeFetcher, *[]model.Notice) {
	t.Helper()
	notices := &[]model.Notice{}
	sel := store.LoadSelection(context.Background(), nil, "u", "7")
	st := store.New("7", sel, func(n model.Notice) { *notices = append(*notices, n) })
	st.ApplyFullRefresh(table())
	f := &fakeFetcher{}
	f.set(table())
	return New("7", st, f, nil, opts), st, f, notices
}

func TestFullRefreshAdoptsServerTable(t *testing.T) {
	r, st, f, _ := newRig(t, Options{})
	f.set([]model.Seat{
		{ID: "a", SeatNumber: "1A", Available: false},
		{ID: "b", SeatNumber: "1B", Available: true},
	})
	if err := r.FullRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if seat, _ := st.Seat("a"); seat.Available {
		t.Error("seat a should have adopted available=false")
	}
	if _, ok := st.Seat("c"); ok {
		t.Error("seat c should be gone after the refresh")
	}
}

func TestVerifySelectionEvictsBookedAndMissing(t *testing.T) {
	r, st, f, notices := newRig(t, Options{VerifyMinGap: time.Nanosecond})
	st.AddToSelection("a")
	st.AddToSelection("b")
	f.set([]model.Seat{
		{ID: "a", SeatNumber: "1A", Available: false, Booked: true}, // booked by someone else
		{ID: "c", SeatNumber: "1C", Available: true},
		// seat b vanished entirely
	})
	if err := r.VerifySelection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.Selection().Contains("a") || st.Selection().Contains("b") {
		t.Errorf("selection should be empty, got %v", st.Selection().IDs())
	}
	if len(*notices) != 2 {
		t.Fatalf("want one notice per evicted seat, got %d", len(*notices))
	}
	reasons := map[model.NoticeReason]bool{}
	for _, n := range *notices {
		reasons[n.Reason] = true
	}
	if !reasons[model.ReasonBookedByOther] || !reasons[model.ReasonMissingFromServer] {
		t.Errorf("unexpected reasons in %v", *notices)
	}
}

func TestVerifySelectionThrottled(t *testing.T) {
	r, st, f, _ := newRig(t, Options{VerifyMinGap: time.Hour})
	st.AddToSelection("a")
	if err := r.VerifySelection(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := f.fetchCount()
	// Within the gap the call is a successful no-op, no fetch.
	if err := r.VerifySelection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.fetchCount() != before {
		t.Error("throttled verification still fetched")
	}
}

func TestVerifySelectionSkipsFetchWhenNothingHeld(t *testing.T) {
	r, _, f, _ := newRig(t, Options{VerifyMinGap: time.Nanosecond})
	if err := r.VerifySelection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.fetchCount() != 0 {
		t.Error("verification with an empty selection should not fetch")
	}
}

func TestDeepSyncEvictsAndAdopts(t *testing.T) {
	r, st, f, notices := newRig(t, Options{})
	st.AddToSelection("a")
	st.AddToSelection("b")
	f.set([]model.Seat{
		{ID: "a", SeatNumber: "1A", Available: false, Booked: true},
		{ID: "b", SeatNumber: "1B", Available: true},
		{ID: "c", SeatNumber: "1C", Available: true},
	})
	if err := r.DeepSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	// a was booked by someone else: evicted with a notice.
	if st.Selection().Contains("a") {
		t.Error("seat a should have been evicted")
	}
	if len(*notices) != 1 {
		t.Errorf("want one notice, got %d", len(*notices))
	}
	// b stays held and pinned unavailable despite the server's available=true.
	if !st.Selection().Contains("b") {
		t.Error("seat b should remain held")
	}
	if seat, _ := st.Seat("b"); seat.Available {
		t.Error("held seat b should stay pinned unavailable")
	}
	// c adopted the server's truth.
	if seat, _ := st.Seat("c"); !seat.Available {
		t.Error("seat c should have adopted available=true")
	}
}

func TestDeepSyncNoChangeIsNoOp(t *testing.T) {
	r, st, _, notices := newRig(t, Options{})
	before := st.Snapshot()
	if err := r.DeepSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	after := st.Snapshot()
	if len(before) != len(after) {
		t.Fatal("table size changed")
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("seat %s changed without divergence", before[i].ID)
		}
	}
	if len(*notices) != 0 {
		t.Error("no notices expected")
	}
}

func TestFetchErrorSkipsPass(t *testing.T) {
	r, st, f, _ := newRig(t, Options{VerifyMinGap: time.Nanosecond})
	st.AddToSelection("a")
	f.err = errors.New("boom")
	if err := r.FullRefresh(context.Background()); err == nil {
		t.Error("refresh should surface the fetch error")
	}
	if err := r.DeepSync(context.Background()); err == nil {
		t.Error("deep sync should surface the fetch error")
	}
	// Local state untouched.
	if !st.Selection().Contains("a") {
		t.Error("fetch failure must not mutate the selection")
	}
}

func TestStaleConnectionGuard(t *testing.T) {
	conn := &fakeConn{last: time.Now().Add(-3 * time.Minute)}
	notices := &[]model.Notice{}
	sel := store.LoadSelection(context.Background(), nil, "u", "7")
	st := store.New("7", sel, func(n model.Notice) { *notices = append(*notices, n) })
	f := &fakeFetcher{}
	f.set(table())
	r := New("7", st, f, conn, Options{StaleAfter: 2 * time.Minute})

	r.checkStale(context.Background())
	if conn.forced != 1 {
		t.Fatalf("want one forced reconnect, got %d", conn.forced)
	}
	// Fresh again: no further forcing.
	r.checkStale(context.Background())
	if conn.forced != 1 {
		t.Errorf("guard fired on a fresh connection, forced=%d", conn.forced)
	}
}

func TestWakeUpCoalesces(t *testing.T) {
	r, _, _, _ := newRig(t, Options{})
	r.WakeUp()
	r.WakeUp() // must not block
	select {
	case <-r.wake:
	default:
		t.Fatal("wake signal missing")
	}
	select {
	case <-r.wake:
		t.Fatal("wake signals were not coalesced")
	default:
	}
}
