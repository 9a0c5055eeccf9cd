package model

import "time"

// NoticeReason classifies a user-facing notice.
type NoticeReason string

const (
	// ReasonHoldExpired – a seat the user held expired on the server.
	ReasonHoldExpired NoticeReason = "HOLD_EXPIRED"
	// ReasonBookedByOther – a held seat was confirmed-booked by someone else.
	ReasonBookedByOther NoticeReason = "BOOKED_BY_OTHER"
	// ReasonReleasedByServer – the server released a seat the user held.
	ReasonReleasedByServer NoticeReason = "RELEASED_BY_SERVER"
	// ReasonMissingFromServer – a held seat vanished from a full refresh.
	ReasonMissingFromServer NoticeReason = "MISSING_FROM_SERVER"
	// ReasonCommandFailed – a hold/release command could not be delivered.
	ReasonCommandFailed NoticeReason = "COMMAND_FAILED"
	// ReasonConnectionLost – reconnection attempts were exhausted.
	ReasonConnectionLost NoticeReason = "CONNECTION_LOST"
)

// Notice is a user-visible message produced when the engine corrects state
// on the user's behalf (evicting an expired hold, rolling back a failed
// command) or gives up on the connection.  SeatID and SeatNumber are empty
// for connection-level notices.
type Notice struct {
	FlightID   string       `json:"flightId"`
	SeatID     string       `json:"seatId,omitempty"`
	SeatNumber string       `json:"seatNumber,omitempty"`
	Reason     NoticeReason `json:"reason"`
	Message    string       `json:"message"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// BroadcastRecord is the short-lived record written to the shared cross-tab
// channel.  It is a wake-up signal only: receiving tabs re-verify against
// the server rather than applying the record's contents.
type BroadcastRecord struct {
	FlightID  string `json:"flightId"`
	SeatID    string `json:"seatId"`
	Action    string `json:"action"` // "select" or "release"
	Origin    string `json:"origin"` // writing instance id, used to skip self
	Timestamp int64  `json:"timestamp"`
}
