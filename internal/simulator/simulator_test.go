package simulator

import (
	"testing"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

func cmd(flightID, seatID, userID string) model.SeatCommand {
	return model.SeatCommand{FlightID: flightID, SeatID: seatID, UserID: userID}
}

func TestAddFlightSeedsStableIDs(t *testing.T) {
	s := New(time.Hour)
	defer s.Close()
	s.AddFlight("FL-7", 2, "AB")

	seats := s.SeatTable("FL-7")
	if len(seats) != 4 {
		t.Fatalf("got %d seats, want 4", len(seats))
	}
	if seats[0].ID != "FL-7-1A" || seats[3].ID != "FL-7-2B" {
		t.Errorf("unexpected ids %s..%s", seats[0].ID, seats[3].ID)
	}
	for _, seat := range seats {
		if !seat.Available || seat.Booked {
			t.Errorf("seeded seat %s not free: %+v", seat.ID, seat)
		}
	}
}

func TestBookIsTerminal(t *testing.T) {
	s := New(time.Hour)
	defer s.Close()
	s.AddFlight("FL-7", 1, "A")

	if !s.Book("FL-7", "FL-7-1A", "user-1") {
		t.Fatal("first booking refused")
	}
	if s.Book("FL-7", "FL-7-1A", "user-2") {
		t.Error("double booking accepted")
	}
	seats := s.SeatTable("FL-7")
	if !seats[0].Booked || seats[0].Available {
		t.Errorf("booked seat state wrong: %+v", seats[0])
	}
	// A booked seat never expires back to available.
	s.ExpireHolds("FL-7")
	if s.SeatTable("FL-7")[0].Available {
		t.Error("booked seat resurfaced as available")
	}
}

func TestHoldExpiryFreesSeat(t *testing.T) {
	s := New(60 * time.Millisecond)
	defer s.Close()
	s.AddFlight("FL-7", 1, "A")

	s.hold(cmd("FL-7", "FL-7-1A", "user-1"))
	if s.Holder("FL-7", "FL-7-1A") != "user-1" {
		t.Fatal("hold not recorded")
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Holder("FL-7", "FL-7-1A") != "" {
		if time.Now().After(deadline) {
			t.Fatal("hold never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !s.SeatTable("FL-7")[0].Available {
		t.Error("seat not available after expiry")
	}
}

func TestHoldRespectsOtherUsers(t *testing.T) {
	s := New(time.Hour)
	defer s.Close()
	s.AddFlight("FL-7", 1, "A")

	s.hold(cmd("FL-7", "FL-7-1A", "user-1"))
	// Someone else's hold attempt is ignored.
	s.hold(cmd("FL-7", "FL-7-1A", "user-2"))
	if got := s.Holder("FL-7", "FL-7-1A"); got != "user-1" {
		t.Errorf("holder = %q, want user-1", got)
	}
	// So is someone else's release.
	s.release(cmd("FL-7", "FL-7-1A", "user-2"))
	if got := s.Holder("FL-7", "FL-7-1A"); got != "user-1" {
		t.Errorf("holder after foreign release = %q, want user-1", got)
	}
	// The owner's release works.
	s.release(cmd("FL-7", "FL-7-1A", "user-1"))
	if got := s.Holder("FL-7", "FL-7-1A"); got != "" {
		t.Errorf("holder after release = %q, want empty", got)
	}
}
