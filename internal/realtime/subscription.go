package realtime

import (
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

// UpdateHandler receives one pushed seat delta.  Handlers run on the read
// loop goroutine and must return quickly.
type UpdateHandler func(model.SeatUpdate)

// registry maps a flight id to its delivery callback.  Registration is
// independent of connection state: a transient disconnect never unregisters
// a callback, and the manager replays every topic after each reconnect.
type registry struct {
	mu   sync.Mutex
	subs map[string]UpdateHandler
}

func (r *registry) init() {
	r.subs = make(map[string]UpdateHandler)
}

// put stores the handler for a flight, replacing any existing one so a
// repeated subscribe can never duplicate delivery.
func (r *registry) put(flightID string, cb UpdateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[flightID] = cb
}

// remove drops the handler and reports whether one existed.
func (r *registry) remove(flightID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[flightID]
	delete(r.subs, flightID)
	return ok
}

// topics returns the topic names for every registered flight.
func (r *registry) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.subs))
	for flightID := range r.subs {
		out = append(out, TopicFor(flightID))
	}
	return out
}

// dispatch routes a MESSAGE frame body to the flight's handler.  Frames for
// unknown topics are dropped; they belong to a subscription that was removed
// while the frame was in flight.
func (r *registry) dispatch(destination string, body json.RawMessage) {
	flightID := strings.TrimPrefix(destination, topicPrefix)
	if flightID == destination {
		return // not a seat topic
	}
	r.mu.Lock()
	cb := r.subs[flightID]
	r.mu.Unlock()
	if cb == nil {
		return
	}
	var u model.SeatUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		log.Printf("conn: bad seat update on %s: %v", destination, err)
		return
	}
	cb(u)
}

// Subscribe registers the callback for a flight and asks the server to start
// pushing its topic.  It is idempotent per flight.  The boolean result
// reflects whether the live connection accepted the subscription; on false
// the callback stays registered and the manager will subscribe the topic on
// the next successful (re)connect.
func (m *Manager) Subscribe(flightID string, cb UpdateHandler) bool {
	m.subs.put(flightID, cb)
	if err := m.writeFrame(Frame{Type: FrameSubscribe, Destination: TopicFor(flightID)}); err != nil {
		log.Printf("conn: subscribe %s: %v", flightID, err)
		return false
	}
	return true
}

// Unsubscribe removes the flight's topic and stops delivery.  Calling it
// without an active subscription is a no-op.
func (m *Manager) Unsubscribe(flightID string) {
	if !m.subs.remove(flightID) {
		return
	}
	if err := m.writeFrame(Frame{Type: FrameUnsubscribe, Destination: TopicFor(flightID)}); err != nil {
		// The server forgets subscriptions on disconnect anyway.
		log.Printf("conn: unsubscribe %s: %v", flightID, err)
	}
}
