package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		wait, max, want time.Duration
	}{
		{time.Second, 30 * time.Second, 2 * time.Second},
		{2 * time.Second, 30 * time.Second, 4 * time.Second},
		{16 * time.Second, 30 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second, 30 * time.Second},
	}
	for _, c := range cases {
		if got := nextBackoff(c.wait, c.max); got != c.want {
			t.Errorf("nextBackoff(%s, %s) = %s, want %s", c.wait, c.max, got, c.want)
		}
	}
}

func TestTopicDerivationIsDeterministic(t *testing.T) {
	if TopicFor("FL-1001") != "/topic/seats.FL-1001" {
		t.Errorf("unexpected topic %q", TopicFor("FL-1001"))
	}
	if TopicFor("FL-1001") != TopicFor("FL-1001") {
		t.Error("topic derivation must be exact across calls")
	}
}

func TestRegistryDispatch(t *testing.T) {
	var r registry
	r.init()

	var got []model.SeatUpdate
	r.put("7", func(u model.SeatUpdate) { got = append(got, u) })
	// Subscribing twice must not duplicate delivery.
	r.put("7", func(u model.SeatUpdate) { got = append(got, u) })

	body, _ := json.Marshal(model.SeatUpdate{FlightID: "7", SeatID: "42", Available: false, Status: model.StatusSelected})
	r.dispatch(TopicFor("7"), body)
	if len(got) != 1 {
		t.Fatalf("want one delivery, got %d", len(got))
	}
	if got[0].SeatID != "42" {
		t.Errorf("wrong update: %+v", got[0])
	}

	// Unknown topics and non-seat destinations are dropped quietly.
	r.dispatch(TopicFor("other"), body)
	r.dispatch("/queue/unrelated", body)
	if len(got) != 1 {
		t.Errorf("stray dispatches delivered, got %d", len(got))
	}

	if !r.remove("7") {
		t.Error("remove should report an existing subscription")
	}
	if r.remove("7") {
		t.Error("second remove should report absence")
	}
	r.dispatch(TopicFor("7"), body)
	if len(got) != 1 {
		t.Error("delivery after unsubscribe")
	}
}

// wsTestHandler upgrades and pumps frames until the client goes away.
func wsTestHandler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConnectIsSingleFlight(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			time.Sleep(100 * time.Millisecond)
			return nil, errors.New("refused")
		},
	}
	m := NewManager(Options{URL: "ws://127.0.0.1:1/ws", Dialer: dialer})
	defer m.Shutdown()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background())
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("concurrent Connect callers made %d dial attempts, want 1", dials)
	}
	for i, err := range errs {
		if err == nil {
			t.Errorf("caller %d got nil error from a failed shared attempt", i)
		}
	}
}

func TestReconnectBackoffDoubles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(wsTestHandler))
	defer srv.Close()

	var mu sync.Mutex
	var fail bool
	var dialTimes []time.Time
	var liveConn net.Conn
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			mu.Lock()
			dialTimes = append(dialTimes, time.Now())
			failing := fail
			mu.Unlock()
			if failing {
				return nil, errors.New("server gone")
			}
			c, err := net.Dial(network, addr)
			if err == nil {
				mu.Lock()
				liveConn = c
				mu.Unlock()
			}
			return c, err
		},
	}

	base := 100 * time.Millisecond
	m := NewManager(Options{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Dialer:        dialer,
		BackoffBase:   base,
		BackoffMax:    time.Second,
		MaxReconnects: 3,
	})
	defer m.Shutdown()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Sever the transport; every redial fails until the ceiling is hit.
	// httptest's CloseClientConnections cannot reach hijacked (websocket)
	// connections, so close the client-side conn captured by the dialer.
	mu.Lock()
	fail = true
	conn := liveConn
	mu.Unlock()
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(dialTimes)
		mu.Unlock()
		if n >= 4 { // initial success + three failing attempts
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("reconnect attempts did not happen, saw %d dials", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	gap1 := dialTimes[2].Sub(dialTimes[1])
	gap2 := dialTimes[3].Sub(dialTimes[2])
	mu.Unlock()

	// The delay before attempt n+1 is double the delay before attempt n.
	if gap1 < base || gap1 > 4*base {
		t.Errorf("second attempt gap %s out of range for base %s", gap1, base)
	}
	if gap2 < gap1+base/2 {
		t.Errorf("backoff did not grow: gap1=%s gap2=%s", gap1, gap2)
	}

	// After the ceiling, plain Connect refuses until ForceReconnect.
	time.Sleep(50 * time.Millisecond)
	if err := m.Connect(context.Background()); !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Connect after ceiling = %v, want ErrRetriesExhausted", err)
	}

	// ForceReconnect clears the given-up state and dials again.
	mu.Lock()
	fail = false
	mu.Unlock()
	if err := m.ForceReconnect(context.Background()); err != nil {
		t.Fatalf("ForceReconnect: %v", err)
	}
	if !m.IsConnected() {
		t.Error("not connected after ForceReconnect")
	}
}

func TestShutdownStopsReconnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(wsTestHandler))
	defer srv.Close()

	m := NewManager(Options{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		BackoffBase: 10 * time.Millisecond,
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Shutdown()
	if m.IsConnected() {
		t.Error("still connected after Shutdown")
	}
	if err := m.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Shutdown = %v, want ErrClosed", err)
	}
}
