package erp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/pvpedge/verifier/internal/entity"
)

// ErrNotOK indicates the bridge answered 200 but flagged the response as
// unsuccessful in its envelope.
var ErrNotOK = errors.New("erp: response not ok")

// APIError is a non-2xx response from the bridge.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("erp: status %d: %s", e.StatusCode, e.Body)
}

// Client fetches production-order lines from the plant's ERP bridge.
type Client struct {
	baseURL string
	httpc   *http.Client
	schema  *jsonschema.Schema
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

// NewClient builds a bridge client for baseURL.
func NewClient(baseURL string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("erp: base URL is required")
	}
	schema, err := compileOrdersSchema()
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		schema:  schema,
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// envelope is the bridge's standard response wrapper. The legacy bridge
// serializes ok as the string "true" on some endpoints, so the flag is kept
// raw and coerced.
type envelope struct {
	OK   json.RawMessage `json:"ok"`
	List json.RawMessage `json:"list"`
}

// FetchSince returns all order lines with ID greater than lastID. The batch
// is schema-checked before any record is returned.
func (c *Client) FetchSince(ctx context.Context, lastID int64) ([]entity.ExpectedRecord, error) {
	url := fmt.Sprintf("%s/api/sap-orders/getIdGreaterThan/%d", c.baseURL, lastID)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !okFlag(env.OK) {
		return nil, ErrNotOK
	}
	if len(env.List) == 0 || string(env.List) == "null" {
		return nil, nil
	}
	if err := validateBatch(c.schema, env.List); err != nil {
		return nil, err
	}

	var records []entity.ExpectedRecord
	if err := json.Unmarshal(env.List, &records); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}

	c.logger.Debug("erp.fetch.ok",
		zap.Int64("since_id", lastID),
		zap.Int("records", len(records)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return records, nil
}

// okFlag coerces the envelope flag: the bridge sends bool true or the
// string "true" depending on the endpoint version.
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
