// Package simulator is an in-process seat server implementing the
// interfaces the engine consumes: the full-table fetch, the websocket push
// subscription with hold/release destinations, and server-side hold
// expiration.  cmd/seatsimd serves it for local development; the
// integration tests mount it on httptest.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/flight-seat-sync/internal/model"
	"github.com/iliyamo/flight-seat-sync/internal/realtime"
)

// seatState is one seat plus its hold bookkeeping.
type seatState struct {
	seat   model.Seat
	holder string
	heldAt time.Time
}

// client is one websocket session and the topics it subscribed.
type client struct {
	ws     *websocket.Conn
	mu     sync.Mutex // serializes writes
	topics map[string]struct{}
}

func (c *client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *client) write(f realtime.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Simulator holds the in-memory flight tables and connected clients.
type Simulator struct {
	holdTTL time.Duration

	mu      sync.Mutex
	flights map[string][]*seatState
	byID    map[string]map[string]*seatState
	clients map[*client]struct{}

	stopOnce sync.Once
	stop     chan struct{}

	upgrader websocket.Upgrader
}

// New builds an empty simulator whose holds expire after holdTTL.
func New(holdTTL time.Duration) *Simulator {
	s := &Simulator{
		holdTTL: holdTTL,
		flights: make(map[string][]*seatState),
		byID:    make(map[string]map[string]*seatState),
		clients: make(map[*client]struct{}),
		stop:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	go s.expiryLoop()
	return s
}

// Register mounts the simulator's routes on an echo instance.
func (s *Simulator) Register(e *echo.Echo) {
	e.GET("/api/v1/flights/:flightID/seats", s.handleSeats)
	e.POST("/api/v1/flights/:flightID/seats/:seatID/book", s.handleBook)
	e.GET("/ws", s.handleWS)
}

// Close stops the expiry worker and disconnects every client.
func (s *Simulator) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.KickAll()
}

// AddFlight seeds a flight with rows*len(letters) free seats.  Seat ids are
// stable ("<flight>-<row><letter>") so tests can address them.
func (s *Simulator) AddFlight(flightID string, rows int, letters string) {
	seats := make([]model.Seat, 0, rows*len(letters))
	for row := 1; row <= rows; row++ {
		for _, l := range letters {
			num := fmt.Sprintf("%d%c", row, l)
			seats = append(seats, model.Seat{
				ID:         flightID + "-" + num,
				SeatNumber: num,
				Available:  true,
			})
		}
	}
	s.AddFlightSeats(flightID, seats)
}

// AddFlightSeats seeds a flight with explicit seat records.
func (s *Simulator) AddFlightSeats(flightID string, seats []model.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]*seatState, 0, len(seats))
	index := make(map[string]*seatState, len(seats))
	for _, seat := range seats {
		st := &seatState{seat: seat}
		states = append(states, st)
		index[seat.ID] = st
	}
	s.flights[flightID] = states
	s.byID[flightID] = index
}

// SeatTable returns the current table for a flight, server order.
func (s *Simulator) SeatTable(flightID string) []model.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := s.flights[flightID]
	out := make([]model.Seat, 0, len(states))
	for _, st := range states {
		out = append(out, st.seat)
	}
	return out
}

// Holder returns who holds a seat, empty when free.
func (s *Simulator) Holder(flightID, seatID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.lookupLocked(flightID, seatID); st != nil {
		return st.holder
	}
	return ""
}

// ExpireHolds force-expires every active hold on a flight immediately,
// regardless of TTL.  Test hook for the hold-expiration scenarios.
func (s *Simulator) ExpireHolds(flightID string) {
	s.mu.Lock()
	var updates []model.SeatUpdate
	for _, st := range s.flights[flightID] {
		if st.holder != "" && !st.seat.Booked {
			st.holder = ""
			st.seat.Available = true
			updates = append(updates, update(flightID, st, model.StatusHoldExpired))
		}
	}
	s.mu.Unlock()
	for _, u := range updates {
		s.push(u)
	}
}

// KickAll closes every websocket session without touching seat state.  Test
// hook simulating transport loss.
func (s *Simulator) KickAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.ws.Close()
	}
}

// Book marks a seat permanently booked and pushes CONFIRMED.  The admin
// endpoint and tests use it to stand in for the out-of-scope booking flow.
func (s *Simulator) Book(flightID, seatID, userID string) bool {
	s.mu.Lock()
	st := s.lookupLocked(flightID, seatID)
	if st == nil || st.seat.Booked {
		s.mu.Unlock()
		return false
	}
	st.seat.Booked = true
	st.seat.Available = false
	st.holder = ""
	u := update(flightID, st, model.StatusConfirmed)
	seatNumber := st.seat.SeatNumber
	s.mu.Unlock()
	s.push(u)
	// Booking events feed downstream consumers; losing one never blocks
	// the booking itself.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = PublishSeatBooked(ctx, SeatBookedEvent{
			FlightID:   flightID,
			SeatID:     seatID,
			SeatNumber: seatNumber,
			UserID:     userID,
			BookedAt:   time.Now().UTC().Format(time.RFC3339),
		})
	}()
	return true
}

func (s *Simulator) handleSeats(c echo.Context) error {
	flightID := c.Param("flightID")
	s.mu.Lock()
	_, ok := s.flights[flightID]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown flight"})
	}
	return c.JSON(http.StatusOK, s.SeatTable(flightID))
}

func (s *Simulator) handleBook(c echo.Context) error {
	flightID := c.Param("flightID")
	seatID := c.Param("seatID")
	userID := c.QueryParam("userId")
	if !s.Book(flightID, seatID, userID) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "seat not bookable"})
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Simulator) handleWS(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := &client{ws: ws, topics: make(map[string]struct{})}
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Server-side heartbeat toward the client.
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				_ = ws.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("sim: bad frame: %v", err)
			continue
		}
		s.handleFrame(cl, f)
	}

	close(done)
	s.mu.Lock()
	delete(s.clients, cl)
	s.mu.Unlock()
	_ = ws.Close()
	return nil
}

func (s *Simulator) handleFrame(cl *client, f realtime.Frame) {
	switch f.Type {
	case realtime.FrameSubscribe:
		cl.mu.Lock()
		cl.topics[f.Destination] = struct{}{}
		cl.mu.Unlock()
	case realtime.FrameUnsubscribe:
		cl.mu.Lock()
		delete(cl.topics, f.Destination)
		cl.mu.Unlock()
	case realtime.FrameSend:
		var cmd model.SeatCommand
		if err := json.Unmarshal(f.Body, &cmd); err != nil {
			log.Printf("sim: bad command: %v", err)
			return
		}
		switch f.Destination {
		case realtime.DestHold:
			s.hold(cmd)
		case realtime.DestRelease:
			s.release(cmd)
		}
	}
}

// hold grants the seat to the requesting user if it is free or already
// theirs (re-holding refreshes the TTL).  A seat someone else holds is left
// untouched; the requester learns the truth from the topic and the next
// refresh.
func (s *Simulator) hold(cmd model.SeatCommand) {
	s.mu.Lock()
	st := s.lookupLocked(cmd.FlightID, cmd.SeatID)
	if st == nil || st.seat.Booked || (st.holder != "" && st.holder != cmd.UserID) {
		s.mu.Unlock()
		return
	}
	st.holder = cmd.UserID
	st.heldAt = time.Now()
	st.seat.Available = false
	u := update(cmd.FlightID, st, model.StatusSelected)
	s.mu.Unlock()
	s.push(u)
}

func (s *Simulator) release(cmd model.SeatCommand) {
	s.mu.Lock()
	st := s.lookupLocked(cmd.FlightID, cmd.SeatID)
	if st == nil || st.seat.Booked || st.holder != cmd.UserID {
		s.mu.Unlock()
		return
	}
	st.holder = ""
	st.seat.Available = true
	u := update(cmd.FlightID, st, model.StatusReleased)
	s.mu.Unlock()
	s.push(u)
}

// expiryLoop frees seats whose holds aged past the TTL and pushes
// HOLD_EXPIRED for each.
func (s *Simulator) expiryLoop() {
	interval := s.holdTTL / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			var updates []model.SeatUpdate
			now := time.Now()
			s.mu.Lock()
			for flightID, states := range s.flights {
				for _, st := range states {
					if st.holder != "" && !st.seat.Booked && now.Sub(st.heldAt) > s.holdTTL {
						st.holder = ""
						st.seat.Available = true
						updates = append(updates, update(flightID, st, model.StatusHoldExpired))
					}
				}
			}
			s.mu.Unlock()
			for _, u := range updates {
				s.push(u)
			}
		}
	}
}

// push fans an update out to every client subscribed to its flight topic.
func (s *Simulator) push(u model.SeatUpdate) {
	body, err := json.Marshal(u)
	if err != nil {
		return
	}
	topic := realtime.TopicFor(u.FlightID)
	f := realtime.Frame{Type: realtime.FrameMessage, Destination: topic, Body: body}
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		if !c.subscribed(topic) {
			continue
		}
		if err := c.write(f); err != nil {
			log.Printf("sim: push to client: %v", err)
		}
	}
}

func (s *Simulator) lookupLocked(flightID, seatID string) *seatState {
	if index, ok := s.byID[flightID]; ok {
		return index[seatID]
	}
	return nil
}

func update(flightID string, st *seatState, status model.SeatStatus) model.SeatUpdate {
	return model.SeatUpdate{
		FlightID:  flightID,
		SeatID:    st.seat.ID,
		Available: st.seat.Available,
		Status:    status,
		Timestamp: time.Now().UnixMilli(),
	}
}
