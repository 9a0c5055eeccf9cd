// Package fetch retrieves the full seat table for a flight over HTTP.  The
// table is the ground truth every reconciliation pass is derived from.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/flight-seat-sync/internal/model"
)

// Client fetches seat tables from the seat server's REST surface.
type Client struct {
	base string
	http *http.Client
}

// New builds a fetch client for the given base URL, e.g.
// "http://localhost:8080".  A trailing slash is tolerated.
func New(base string) *Client {
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// FlightSeats returns the ordered seat collection for one flight.  Any
// non-200 answer is an error; reconciliation treats fetch errors as "skip
// this pass", never as seat truth.
func (c *Client) FlightSeats(ctx context.Context, flightID string) ([]model.Seat, error) {
	u := fmt.Sprintf("%s/api/v1/flights/%s/seats", c.base, url.PathEscape(flightID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch seats for flight %s: %w", flightID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch seats for flight %s: status %d", flightID, resp.StatusCode)
	}
	var seats []model.Seat
	if err := json.NewDecoder(resp.Body).Decode(&seats); err != nil {
		return nil, fmt.Errorf("decode seats for flight %s: %w", flightID, err)
	}
	return seats, nil
}
