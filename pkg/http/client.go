// Package http is the JSON client walletd uses for every outbound REST call:
// mint quotes, the wallet bridge, credential top-ups and alert webhooks.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"walletd/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError is a response outside 2xx. Body is kept raw so callers can pull
// out server-specific detail.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Signer decorates each request before it is sent
type Signer interface {
	SignRequest(req *http.Request) error
}

var errEmptyToken = errors.New("empty bearer token")

type BearerSigner struct {
	Token string
}

func (s BearerSigner) SignRequest(req *http.Request) error {
	if s.Token == "" {
		return errEmptyToken
	}
	req.Header.Set("Authorization", "Bearer "+s.Token)
	return nil
}

// Options tunes the retry and breaker policies
type Options struct {
	// MaxRetries applies to network errors, 5xx and 429. Requests that move
	// value must use zero.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BreakerDelay   time.Duration
}

var DefaultOptions = Options{
	MaxRetries:     3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	BreakerDelay:   10 * time.Second,
}

func (o Options) normalized() Options {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultOptions.InitialBackoff
	}
	if o.MaxBackoff <= o.InitialBackoff {
		o.MaxBackoff = 2 * o.InitialBackoff
	}
	if o.BreakerDelay <= 0 {
		o.BreakerDelay = DefaultOptions.BreakerDelay
	}
	return o
}

func serverFault(resp *http.Response, err error) bool {
	return err != nil || resp.StatusCode >= 500
}

func retryable(resp *http.Response, err error) bool {
	return serverFault(resp, err) || resp.StatusCode == http.StatusTooManyRequests
}

type instruments struct {
	tracer   trace.Tracer
	requests metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

func newInstruments() instruments {
	meter := telemetry.GetMeter("walletd/http")
	in := instruments{tracer: telemetry.GetTracer("walletd/http")}
	in.requests, _ = meter.Int64Counter("walletd_http_requests_total",
		metric.WithDescription("Outbound HTTP requests"))
	in.failures, _ = meter.Int64Counter("walletd_http_failures_total",
		metric.WithDescription("Outbound HTTP requests that failed or returned non-2xx"))
	in.latency, _ = meter.Float64Histogram("walletd_http_request_seconds",
		metric.WithDescription("Outbound HTTP latency including retries"))
	return in
}

// Client sends JSON requests relative to a base URL. It is safe for
// concurrent use; the circuit breaker is shared by every caller.
type Client struct {
	http     *http.Client
	baseURL  string
	signer   Signer
	executor failsafe.Executor[*http.Response]
	inst     instruments
}

func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	return NewClientWithOptions(baseURL, timeout, signer, DefaultOptions)
}

func NewClientWithOptions(baseURL string, timeout time.Duration, signer Signer, opts Options) *Client {
	opts = opts.normalized()

	var policies []failsafe.Policy[*http.Response]
	if opts.MaxRetries > 0 {
		policies = append(policies, retrypolicy.NewBuilder[*http.Response]().
			HandleIf(retryable).
			WithBackoff(opts.InitialBackoff, opts.MaxBackoff).
			WithMaxRetries(opts.MaxRetries).
			ReturnLastFailure().
			Build())
	}
	policies = append(policies, circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(serverFault).
		WithFailureThresholdRatio(5, 10).
		WithDelay(opts.BreakerDelay).
		Build())

	return &Client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		signer:   signer,
		executor: failsafe.With[*http.Response](policies...),
		inst:     newInstruments(),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.send(ctx, http.MethodGet, path, params, nil)
}

// Post sends body as JSON; a nil body sends no payload
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) PostWithParams(ctx context.Context, path string, params map[string]string, body interface{}) ([]byte, error) {
	return c.send(ctx, http.MethodPost, path, params, body)
}

func (c *Client) send(ctx context.Context, method, path string, params map[string]string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Paths can carry credentials (bot tokens), so spans are named by method only.
	ctx, span := c.inst.tracer.Start(ctx, method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("server.address", req.URL.Host)))
	defer span.End()

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.SetStatus(codes.Error, "sign")
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	attrs := metric.WithAttributes(attribute.String("method", method), attribute.String("host", req.URL.Host))
	start := time.Now()
	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		attempt := req.Clone(ctx)
		if payload != nil {
			attempt.Body = io.NopCloser(bytes.NewReader(payload))
			attempt.ContentLength = int64(len(payload))
		}
		return c.http.Do(attempt)
	})
	c.inst.requests.Add(ctx, 1, attrs)
	c.inst.latency.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		c.inst.failures.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.inst.failures.Add(ctx, 1, attrs)
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return nil, &APIError{Method: method, Path: req.URL.Path, StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}
