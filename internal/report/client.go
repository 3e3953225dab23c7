package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotOK is a 200 whose envelope flags the report as rejected.
var ErrNotOK = errors.New("report: response not ok")

// APIError is a non-2xx response from the central API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("report: status %d: %s", e.StatusCode, e.Body)
}

// Client posts verdict reports to the central handling-unit API.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpc = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpc.Timeout = d
		}
	}
}

func NewClient(baseURL string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("report: base URL is required")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Send delivers one payload. Success is HTTP 200 with an affirmative
// envelope; everything else is an error the relay classifies via Retryable.
func (c *Client) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/handling-units/save", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
	}
	var env struct {
		OK json.RawMessage `json:"ok"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || !okFlag(env.OK) {
		return ErrNotOK
	}

	c.logger.Debug("report.sent", zap.Int64("pvp_edge_id", p.PvpEdgeID))
	return nil
}

// Retryable classifies a Send failure: transport errors, 5xx and 429 get
// the backoff schedule; a rejected payload is final.
func Retryable(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode >= 500 || ae.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrNotOK)
}

// okFlag coerces the envelope flag: bool true or the string "true",
// depending on the API version.
func okFlag(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
