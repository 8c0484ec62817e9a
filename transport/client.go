package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fastapi-guard/agent-go/cipher"
	"github.com/fastapi-guard/agent-go/model"
	"github.com/fastapi-guard/agent-go/observe"
	"github.com/fastapi-guard/agent-go/resilience"
)

const (
	pathEventsEncrypted  = "/api/v1/events/encrypted"
	pathMetricsEncrypted = "/api/v1/metrics/encrypted"
	pathAgentStatus      = "/api/v1/agents/status"
	pathRulesTemplate    = "/api/v1/projects/%s/rules"
	pathHealth           = "/api/v1/health"

	agentVersionHeader = "X-Agent-Version"
	projectIDHeader    = "X-Project-Id"

	defaultRateLimitPerMinute = 100
	defaultRateLimitBurst     = 10
	defaultCircuitMaxFailures = 5
	defaultCircuitResetAfter  = 60 * time.Second
	defaultBulkheadMax        = 4
	maxResponseBodyBytes      = 64 * 1024
)

// Stats summarizes the outcomes of a Client's HTTP attempts, analogous
// to the buffer's own counters.
type Stats struct {
	RequestsSent   int64
	RequestsFailed int64
	BytesSent      int64
	LastSuccess    time.Time
	LastError      string
}

// Client sends encrypted event/metric batches, status heartbeats, and
// dynamic rule fetches to the management service, composing a rate
// limiter, circuit breaker, retry policy, bulkhead and per-attempt
// timeout around a standard http.Client.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	projectID  string
	version    string
	timeout    time.Duration

	encryptor *cipher.Encryptor

	rateLimiter *resilience.RateLimiter
	breaker     *resilience.CircuitBreaker
	retry       *resilience.Retry
	bulkhead    *resilience.Bulkhead
	timeoutExec *resilience.Timeout

	// probeExecutor runs TestConnection's single lightweight reachability
	// check: unlike do's retry-around-the-breaker composition (built for batch
	// sends that should keep trying), a probe should report the current
	// state once, so it shares the rate limiter, breaker, bulkhead and
	// timeout but carries no retry.
	probeExecutor *resilience.Executor

	mu    sync.Mutex
	stats Stats

	// etag is the last ETag seen from FetchDynamicRules, sent back as
	// If-None-Match to elicit a 304 when the rules have not changed.
	etagMu sync.Mutex
	etag   string

	mw *observe.Middleware
}

// Option customizes a Client at construction time.
type Option func(*Client)

// WithMiddleware instruments every logical request that do makes with
// the given observability middleware, recording one span and one
// RecordExecution call per request, all its retry attempts included,
// under the "transport" namespace.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(c *Client) {
		c.mw = mw
	}
}

// New builds a Client for cfg. It derives the project encryption key
// and verifies an encrypt/decrypt round trip before returning,
// surfacing a failure as *EncryptionInitError so Handler.start can
// abort per spec.
func New(cfg *model.AgentConfig, httpClient *http.Client, opts ...Option) (*Client, error) {
	key := cipher.DeriveKey(cfg.APIKey, cfg.ProjectID)
	encryptor, err := cipher.NewEncryptor(key)
	if err != nil {
		return nil, &EncryptionInitError{Err: err}
	}
	if err := cipher.VerifyRoundTrip(encryptor); err != nil {
		return nil, &EncryptionInitError{Err: err}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  cfg.RetryAttempts + 1,
		InitialDelay: time.Duration(cfg.BackoffFactor * float64(time.Second)),
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Strategy:     resilience.BackoffExponential,
		Jitter:       true,
		RetryIf:      Retriable,
	})

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  defaultCircuitMaxFailures,
		ResetTimeout: defaultCircuitResetAfter,
	})

	rateLimiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Rate:        defaultRateLimitPerMinute / 60.0,
		Burst:       defaultRateLimitBurst,
		WaitOnLimit: true,
		MaxWait:     cfg.Timeout,
	})

	bulkhead := resilience.NewBulkhead(resilience.BulkheadConfig{
		MaxConcurrent: defaultBulkheadMax,
	})

	c := &Client{
		httpClient:  httpClient,
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		projectID:   cfg.ProjectID,
		version:     cfg.Version,
		timeout:     cfg.Timeout,
		encryptor:   encryptor,
		rateLimiter: rateLimiter,
		breaker:     breaker,
		retry:       retry,
		bulkhead:    bulkhead,
		timeoutExec: resilience.NewTimeout(resilience.TimeoutConfig{Timeout: cfg.Timeout}),
	}
	c.probeExecutor = resilience.NewExecutor(
		resilience.WithRateLimiter(rateLimiter),
		resilience.WithCircuitBreaker(breaker),
		resilience.WithBulkhead(bulkhead),
		resilience.WithTimeoutConfig(c.timeoutExec),
	)
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stats returns a snapshot of the client's cumulative counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// BreakerState reports the current state of the client's circuit
// breaker, for use by health checks that fold transport health into a
// composite status.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// SendEvents posts events to the encrypted events endpoint. It
// returns (true, "") on a 2xx response and (false, reason) if
// retries were exhausted or the circuit was open, where reason is
// this call's own failure, not a snapshot of shared client state.
func (c *Client) SendEvents(ctx context.Context, events []model.SecurityEvent) (bool, string) {
	plaintext, err := cipher.MarshalEvents(events)
	if err != nil {
		c.recordFailure(err)
		return false, err.Error()
	}
	return c.sendEncrypted(ctx, pathEventsEncrypted, plaintext)
}

// SendMetrics posts metrics to the encrypted metrics endpoint.
func (c *Client) SendMetrics(ctx context.Context, metrics []model.SecurityMetric) (bool, string) {
	plaintext, err := cipher.MarshalMetrics(metrics)
	if err != nil {
		c.recordFailure(err)
		return false, err.Error()
	}
	return c.sendEncrypted(ctx, pathMetricsEncrypted, plaintext)
}

func (c *Client) sendEncrypted(ctx context.Context, path string, plaintext []byte) (bool, string) {
	payload, err := c.encryptor.EncodePayload(plaintext)
	if err != nil {
		c.recordFailure(err)
		return false, err.Error()
	}

	body, err := json.Marshal(struct {
		ProjectID string `json:"project_id"`
		Encrypted bool   `json:"encrypted"`
		Payload   string `json:"payload"`
	}{ProjectID: c.projectID, Encrypted: true, Payload: payload})
	if err != nil {
		c.recordFailure(err)
		return false, err.Error()
	}

	resp, err := c.do(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		c.recordFailure(err)
		return false, err.Error()
	}
	resp.Body.Close()
	c.recordSuccess(len(body))
	return true, ""
}

// SendStatus posts an unencrypted status heartbeat.
func (c *Client) SendStatus(ctx context.Context, status model.AgentStatus) bool {
	body, err := json.Marshal(status)
	if err != nil {
		c.recordFailure(err)
		return false
	}
	resp, err := c.do(ctx, http.MethodPost, pathAgentStatus, body, nil)
	if err != nil {
		c.recordFailure(err)
		return false
	}
	resp.Body.Close()
	c.recordSuccess(len(body))
	return true
}

// FetchDynamicRules GETs the project's rule document. It returns
// (rules, true) on 200, (nil, true) on 304 (no change), and
// (nil, false) on any error.
func (c *Client) FetchDynamicRules(ctx context.Context) (*model.DynamicRules, bool) {
	path := fmt.Sprintf(pathRulesTemplate, c.projectID)

	c.etagMu.Lock()
	etag := c.etag
	c.etagMu.Unlock()

	var headers http.Header
	if etag != "" {
		headers = http.Header{"If-None-Match": []string{etag}}
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil, headers)
	if err != nil {
		c.recordFailure(err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.recordSuccess(0)
		return nil, true
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		c.recordFailure(err)
		return nil, false
	}

	var rules model.DynamicRules
	if err := json.Unmarshal(data, &rules); err != nil {
		c.recordFailure(err)
		return nil, false
	}

	if tag := resp.Header.Get("ETag"); tag != "" {
		c.etagMu.Lock()
		c.etag = tag
		c.etagMu.Unlock()
	}

	c.recordSuccess(len(data))
	return &rules, true
}

// TestConnection performs a lightweight GET against the health
// endpoint to verify connectivity and credentials. Unlike the other
// send paths it runs through probeExecutor rather than do, so a
// failed probe is reported immediately rather than retried.
func (c *Client) TestConnection(ctx context.Context) bool {
	var resp *http.Response
	err := c.probeExecutor.Execute(ctx, func(ctx context.Context) error {
		r, err := c.attempt(ctx, http.MethodGet, pathHealth, nil, nil)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		c.recordFailure(err)
		return false
	}
	defer resp.Body.Close()
	c.recordSuccess(0)
	return true
}

// do executes one logical request. When an observability middleware
// is configured via WithMiddleware, the whole attempt (including
// retries) is wrapped in a span and recorded as one operation
// execution; otherwise it runs unwrapped.
func (c *Client) do(ctx context.Context, method, path string, body []byte, extraHeaders http.Header) (*http.Response, error) {
	if c.mw == nil {
		return c.doUnwrapped(ctx, method, path, body, extraHeaders)
	}

	meta := observe.OperationMeta{
		Namespace: "transport",
		Name:      method + " " + path,
		Tags:      []string{method},
	}
	wrapped := c.mw.Wrap(func(ctx context.Context, _ observe.OperationMeta, _ any) (any, error) {
		return c.doUnwrapped(ctx, method, path, body, extraHeaders)
	})
	result, err := wrapped(ctx, meta, nil)
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// doUnwrapped executes one logical request, composing the resilience
// stack in the fixed order: bulkhead (outermost, limits concurrency),
// then retry around the whole attempt loop so every retry iteration
// re-waits on the rate limiter and re-enters the circuit breaker,
// then the per-attempt timeout around the actual HTTP round trip.
func (c *Client) doUnwrapped(ctx context.Context, method, path string, body []byte, extraHeaders http.Header) (*http.Response, error) {
	var resp *http.Response

	err := c.bulkhead.Execute(ctx, func(ctx context.Context) error {
		return c.retry.Execute(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return err
			}
			return c.breaker.Execute(ctx, func(ctx context.Context) error {
				return c.timeoutExec.Execute(ctx, func(ctx context.Context) error {
					r, err := c.attempt(ctx, method, path, body, extraHeaders)
					if err != nil {
						return err
					}
					resp = r
					return nil
				})
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, extraHeaders http.Header) (*http.Response, error) {
	url := c.endpoint + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set(projectIDHeader, c.projectID)
	req.Header.Set(agentVersionHeader, c.version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fastapi-guard-agent/"+c.version)
	for k, values := range extraHeaders {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	if resp.StatusCode == http.StatusNotModified {
		return resp, nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	resp.Body.Close()

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("transport: retriable status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("transport: retriable status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, &PermanentError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return nil, fmt.Errorf("transport: unexpected status %d", resp.StatusCode)
}

func (c *Client) recordSuccess(bytesSent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RequestsSent++
	c.stats.BytesSent += int64(bytesSent)
	c.stats.LastSuccess = time.Now()
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RequestsFailed++
	c.stats.LastError = err.Error()
}

// EncodePayload exposes the client's encryptor for callers that need
// to pre-encrypt a payload outside the standard send paths (used by
// tests exercising the wire framing directly).
func (c *Client) EncodePayload(plaintext []byte) (string, error) {
	return c.encryptor.EncodePayload(plaintext)
}
