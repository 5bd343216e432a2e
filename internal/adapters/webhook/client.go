// Package webhook delegates deployments, tests and validations to an
// HTTP service.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/juju/clock"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
	"github.com/bft-labs/upshift/pkg/log"
)

const (
	deployEndpoint   = "/v1/deploy"
	testEndpoint     = "/v1/test"
	validateEndpoint = "/v1/validate"

	// DefaultMaxRetries is how often a throttled request is retried.
	DefaultMaxRetries = 3
)

// definitionPayload is the subset of a definition sent to the service.
type definitionPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Priority string `json:"priority"`
	Strategy string `json:"strategy"`
}

type phasePayload struct {
	Name    string `json:"name"`
	Percent int    `json:"percent"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
}

type requestPayload struct {
	Definition definitionPayload `json:"definition"`
	Phase      *phasePayload     `json:"phase,omitempty"`
}

// responsePayload is accepted from all three endpoints. Deploy answers
// with success, tests and validation with passed.
type responsePayload struct {
	Success bool   `json:"success"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// Client implements ports.DeploymentExecutor, ports.TestRunner and
// ports.Validator over HTTP.
type Client struct {
	client  ports.HTTPClient
	baseURL string
	authKey string
	logger  ports.Logger
	clock   clock.Clock
	observe func(ok bool)

	maxRetries     int
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c ports.HTTPClient) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithClock sets the clock used for retry waits.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithObserver sets a function told the outcome of every request sent
// to the service, retries included.
func WithObserver(fn func(ok bool)) Option {
	return func(cl *Client) { cl.observe = fn }
}

// WithRetry sets how throttled requests are retried.
func WithRetry(maxRetries int, initial, max time.Duration) Option {
	return func(cl *Client) {
		cl.maxRetries = maxRetries
		cl.backoffInitial = initial
		cl.backoffMax = max
	}
}

// New creates a client for the service at baseURL. authKey, when set,
// is sent as a Bearer token.
func New(baseURL, authKey string, opts ...Option) *Client {
	c := &Client{
		client:         &http.Client{Timeout: 30 * time.Second},
		baseURL:        strings.TrimRight(baseURL, "/"),
		authKey:        authKey,
		logger:         log.NewNoopLogger(),
		clock:          clock.WallClock,
		maxRetries:     DefaultMaxRetries,
		backoffInitial: DefaultBackoffInitial,
		backoffMax:     DefaultBackoffMax,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deploy implements ports.DeploymentExecutor.
func (c *Client) Deploy(ctx context.Context, def domain.UpgradeDefinition, req ports.DeployRequest) (ports.DeployResult, error) {
	payload := requestPayload{
		Definition: toPayload(def),
		Phase: &phasePayload{
			Name:    req.Phase.Name,
			Percent: req.Phase.Percent,
			Index:   req.Phase.Index,
			Total:   req.Phase.Total,
		},
	}
	payload.Definition.Strategy = string(req.Strategy)

	resp, err := c.post(ctx, deployEndpoint, payload)
	if err != nil {
		return ports.DeployResult{}, err
	}
	return ports.DeployResult{Success: resp.Success, Details: resp.Details}, nil
}

// Run implements ports.TestRunner.
func (c *Client) Run(ctx context.Context, def domain.UpgradeDefinition) (ports.CheckResult, error) {
	return c.check(ctx, testEndpoint, def)
}

// Validate implements ports.Validator.
func (c *Client) Validate(ctx context.Context, def domain.UpgradeDefinition) (ports.CheckResult, error) {
	return c.check(ctx, validateEndpoint, def)
}

func (c *Client) check(ctx context.Context, endpoint string, def domain.UpgradeDefinition) (ports.CheckResult, error) {
	resp, err := c.post(ctx, endpoint, requestPayload{Definition: toPayload(def)})
	if err != nil {
		return ports.CheckResult{}, err
	}
	return ports.CheckResult{Passed: resp.Passed, Details: resp.Details}, nil
}

// post sends payload, retrying with backoff while the service answers
// 429 or 503.
func (c *Client) post(ctx context.Context, endpoint string, payload requestPayload) (responsePayload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return responsePayload{}, fmt.Errorf("marshal request: %w", err)
	}

	bo := newBackoff(c.backoffInitial, c.backoffMax)
	for attempt := 0; ; attempt++ {
		resp, retry, err := c.do(ctx, endpoint, body)
		if c.observe != nil && ctx.Err() == nil {
			c.observe(err == nil)
		}
		if err == nil {
			return resp, nil
		}
		if !retry || attempt >= c.maxRetries {
			return responsePayload{}, err
		}
		c.logger.Warn("webhook throttled, retrying",
			ports.String("endpoint", endpoint),
			ports.Int("attempt", attempt+1),
			ports.Duration("backoff", bo.Current()),
			ports.Err(err),
		)
		if werr := bo.Wait(ctx, c.clock); werr != nil {
			return responsePayload{}, fmt.Errorf("%w (last error: %v)", werr, err)
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte) (responsePayload, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return responsePayload{}, false, fmt.Errorf("create request: %w", err)
	}

	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upshift-OSArch", runtime.GOOS+"/"+runtime.GOARCH)

	resp, err := c.client.Do(req)
	if err != nil {
		return responsePayload{}, false, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable
		return responsePayload{}, retry, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out responsePayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return responsePayload{}, false, fmt.Errorf("decode response: %w", err)
	}
	return out, false, nil
}

func toPayload(def domain.UpgradeDefinition) definitionPayload {
	return definitionPayload{
		ID:       def.ID,
		Name:     def.Name,
		Kind:     string(def.Kind),
		Priority: def.Priority.String(),
		Strategy: string(def.Strategy),
	}
}

var (
	_ ports.DeploymentExecutor = (*Client)(nil)
	_ ports.TestRunner         = (*Client)(nil)
	_ ports.Validator          = (*Client)(nil)
)
