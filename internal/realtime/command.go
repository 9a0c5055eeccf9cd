package realtime

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

// Commands sends fire-and-forget hold/release commands on the manager's
// connection.  Success means transport-level delivery only; the server's
// business answer arrives asynchronously as a SeatUpdate on the flight's
// topic.
type Commands struct {
	conn   *Manager
	userID string
	tries  int
	delay  time.Duration
}

// NewCommands builds a command channel.  tries is the total number of send
// attempts (the contract is one attempt plus up to two retries); delay is
// the fixed wait between attempts.
func NewCommands(conn *Manager, userID string, tries int, delay time.Duration) *Commands {
	if tries <= 0 {
		tries = 3
	}
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Commands{conn: conn, userID: userID, tries: tries, delay: delay}
}

// UserID returns the identity attached to outgoing commands.
func (c *Commands) UserID() string { return c.userID }

// Select asks the server to hold a seat for this user.
func (c *Commands) Select(ctx context.Context, seatID, flightID string) bool {
	return c.send(ctx, DestHold, seatID, flightID)
}

// Release asks the server to free a seat this user holds.
func (c *Commands) Release(ctx context.Context, seatID, flightID string) bool {
	return c.send(ctx, DestRelease, seatID, flightID)
}

// send delivers one command, retrying on a not-ready connection or a write
// failure with a fixed delay between attempts.  The boolean result is the
// caller's single source of truth: a command is never silently dropped
// after the attempts run out, it is reported false.
func (c *Commands) send(ctx context.Context, dest, seatID, flightID string) bool {
	body, err := json.Marshal(model.SeatCommand{SeatID: seatID, FlightID: flightID, UserID: c.userID})
	if err != nil {
		log.Printf("command: marshal %s: %v", dest, err)
		return false
	}
	for i := 0; i < c.tries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				log.Printf("command: %s seat=%s aborted: %v", dest, seatID, ctx.Err())
				return false
			case <-time.After(c.delay):
			}
		}
		if !c.conn.IsConnected() {
			continue
		}
		if err := c.conn.writeFrame(Frame{Type: FrameSend, Destination: dest, Body: body}); err != nil {
			log.Printf("command: %s seat=%s attempt %d: %v", dest, seatID, i+1, err)
			continue
		}
		return true
	}
	log.Printf("command: %s seat=%s failed after %d attempts", dest, seatID, c.tries)
	return false
}
