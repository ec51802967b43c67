// Package inventory is the HTTP client for the event service's availability
// endpoints.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrInsufficient  = errors.New("not enough tickets available")
	ErrUnreachable   = errors.New("event service unreachable")
)

// StatusError is any non-2xx answer. 404 and 409 also match ErrEventNotFound
// and ErrInsufficient through errors.Is.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("event service returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrEventNotFound:
		return e.Code == http.StatusNotFound
	case ErrInsufficient:
		return e.Code == http.StatusConflict
	}
	return false
}

type Availability struct {
	AvailableTickets int `json:"availableTickets"`
}

type Event struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	AvailableTickets int    `json:"availableTickets"`
}

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Availability(ctx context.Context, eventID string) (int, error) {
	var out Availability
	if err := c.do(ctx, http.MethodGet, eventPath(eventID, "availability"), nil, &out); err != nil {
		return 0, err
	}
	return out.AvailableTickets, nil
}

func (c *Client) SetAvailability(ctx context.Context, eventID string, available int) (int, error) {
	var out Availability
	in := Availability{AvailableTickets: available}
	if err := c.do(ctx, http.MethodPatch, eventPath(eventID, "availability"), in, &out); err != nil {
		return 0, err
	}
	return out.AvailableTickets, nil
}

// Reserve atomically takes tickets from the event and returns what is left.
// The event service records key, so repeating the call is safe.
func (c *Client) Reserve(ctx context.Context, eventID string, tickets int, key string) (int, error) {
	return c.adjust(ctx, eventID, "reserve", tickets, key)
}

// Release gives back what the reservation under key took. Releasing a key
// that was never reserved changes nothing.
func (c *Client) Release(ctx context.Context, eventID string, tickets int, key string) (int, error) {
	return c.adjust(ctx, eventID, "release", tickets, key)
}

func (c *Client) Event(ctx context.Context, eventID string) (*Event, error) {
	var out Event
	if err := c.do(ctx, http.MethodGet, eventPath(eventID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) adjust(ctx context.Context, eventID, op string, tickets int, key string) (int, error) {
	var out Availability
	in := struct {
		Tickets       int    `json:"tickets"`
		ReservationID string `json:"reservationId,omitempty"`
	}{tickets, key}
	if err := c.do(ctx, http.MethodPost, eventPath(eventID, "availability", op), in, &out); err != nil {
		return 0, err
	}
	return out.AvailableTickets, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: remoteMessage(raw, resp.Status)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("invalid response body: %v", err)}
	}
	return nil
}

func remoteMessage(raw []byte, fallback string) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return fallback
}

func eventPath(id string, parts ...string) string {
	p := "/events/" + url.PathEscape(id)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}
