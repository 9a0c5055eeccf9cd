package model

// Seat is one bookable unit of a flight as the engine sees it.  Identity is
// carried by ID alone; SeatNumber is a display label (row letter plus column
// number) used for grouping and messages, never for lookups.
//
// Fields:
//
//	ID         – opaque identifier, unique within a flight.
//	SeatNumber – display label, e.g. "12C".
//	Available  – true when the seat is bookable by anyone right now.
//	Booked     – true once the seat is permanently assigned to a completed
//	             booking.  Booked implies not Available, and a booked seat
//	             accepts no further transitions for the session.
type Seat struct {
	ID         string `json:"id"`
	SeatNumber string `json:"seatNumber"`
	Available  bool   `json:"available"`
	Booked     bool   `json:"booked"`
}

// SeatStatus is the server's label for the change a pushed delta describes.
type SeatStatus string

// Status values observed on the push subscription.
const (
	StatusSelected           SeatStatus = "SELECTED"
	StatusConfirmed          SeatStatus = "CONFIRMED"
	StatusReleased           SeatStatus = "RELEASED"
	StatusHoldExpired        SeatStatus = "HOLD_EXPIRED"
	StatusFixedInconsistency SeatStatus = "FIXED_INCONSISTENCY"
)

// SeatUpdate is a single server-pushed change to one seat.  Updates for the
// same seat may arrive out of timestamp order or more than once; consumers
// must be idempotent and must not assume a delta is newer than the state the
// latest full refresh produced.
type SeatUpdate struct {
	FlightID  string     `json:"flightId"`
	SeatID    string     `json:"seatId"`
	Available bool       `json:"available"`
	Status    SeatStatus `json:"status"`
	Timestamp int64      `json:"timestamp"` // unix milliseconds, informational only
}

// SeatCommand is the payload of a hold or release command.  UserID lets the
// server tell one user's holds from another's.
type SeatCommand struct {
	SeatID   string `json:"seatId"`
	FlightID string `json:"flightId"`
	UserID   string `json:"userId"`
}
