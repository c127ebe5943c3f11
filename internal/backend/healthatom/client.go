// Package healthatom implements backend.Adapter for the HealthAtom family of
// practice-management APIs (Dentalink v1 and Medilink v5).
package healthatom

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

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const defaultTimeout = 15 * time.Second

// Config configures one HealthAtom backend.
type Config struct {
	Profile    backend.Profile
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client talks to one HealthAtom backend in its own dialect.
type Client struct {
	profile    backend.Profile
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

var _ backend.Adapter = (*Client)(nil)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Profile.BaseURL) == "" {
		return nil, errors.New("healthatom: BaseURL is required")
	}
	if _, err := url.Parse(cfg.Profile.BaseURL); err != nil {
		return nil, fmt.Errorf("healthatom: invalid BaseURL: %w", err)
	}
	switch cfg.Profile.Dialect {
	case backend.DialectDentalink, backend.DialectMedilink:
	default:
		return nil, fmt.Errorf("healthatom: unsupported dialect %q", cfg.Profile.Dialect)
	}
	if cfg.Profile.Name == "" {
		cfg.Profile.Name = string(cfg.Profile.Dialect)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		profile:    cfg.Profile,
		baseURL:    strings.TrimRight(cfg.Profile.BaseURL, "/") + "/",
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Profile returns the backend profile this client speaks for.
func (c *Client) Profile() backend.Profile { return c.profile }

func (c *Client) name() string { return c.profile.Name }

// endpoint resolves a relative path against the base URL. Absolute hrefs
// taken from record links are used as-is.
func (c *Client) endpoint(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + strings.TrimLeft(path, "/")
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	// accept lists the success statuses. Empty means any 2xx.
	accept []int
}

// do executes a call and decodes the "data" member of the response into out.
func (c *Client) do(ctx context.Context, in call, out any) error {
	endpoint := c.endpoint(in.path)
	if len(in.query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + in.query.Encode()
	}

	var bodyReader io.Reader
	if in.body != nil {
		payload, err := json.Marshal(in.body)
		if err != nil {
			return fmt.Errorf("%s %s: marshal request: %w", c.name(), in.op, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, in.method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", c.name(), in.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.profile.AuthHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", c.name(), in.op, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %v", c.name(), in.op, backend.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: %w: read response: %v", c.name(), in.op, backend.ErrTransient, err)
	}

	if !accepted(resp.StatusCode, in.accept) {
		c.logger.Warn("healthatom: non-success response",
			"backend", c.name(),
			"op", in.op,
			"status", resp.StatusCode,
			"body", backend.Truncate(string(respBody), 300),
		)
		return backend.NewStatusError(c.name(), in.op, resp.StatusCode, string(respBody))
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("%s %s: %w: decode response: %v", c.name(), in.op, backend.ErrTransient, err)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], env.Data...)
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: %w: decode data: %v", c.name(), in.op, backend.ErrTransient, err)
	}
	return nil
}

func accepted(status int, accept []int) bool {
	if len(accept) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range accept {
		if s == status {
			return true
		}
	}
	return false
}

// eqFilter builds the HealthAtom `q` filter {"field":{"eq":value}, ...}.
func eqFilter(pairs ...any) string {
	filter := make(map[string]map[string]any, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		filter[key] = map[string]any{"eq": pairs[i+1]}
	}
	raw, _ := json.Marshal(filter)
	return string(raw)
}
