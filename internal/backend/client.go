// Package backend is the HTTP client for the commerce backend: coupons, gift
// cards, payment initialisation, carrier feeds, sessions and password recovery.
package backend

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

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Config configures the client
type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	BreakerFailures  uint32
	BreakerOpenFor   time.Duration
	BreakerHalfOpenN uint32
}

// Client talks to the commerce backend through a circuit breaker
type Client struct {
	baseURL  string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*rawResponse]
	validate *validator.Validate
	logger   *zap.Logger
}

type rawResponse struct {
	status int
	body   []byte
}

var errUpstream = errors.New("backend server error")

// NewClient creates a backend client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerHalfOpenN == 0 {
		cfg.BreakerHalfOpenN = 1
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		validate: validator.New(),
		logger:   util.GetLogger(),
	}

	c.breaker = gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "commerce-backend",
		MaxRequests: cfg.BreakerHalfOpenN,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			util.BackendBreakerState.WithLabelValues(name).Set(float64(to))
			c.logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// call performs one request. 2xx bodies are decoded into out and validated;
// 4xx responses are returned as *statusError for the caller to classify.
func (c *Client) call(ctx context.Context, op, method, path, bearer string, in, out interface{}) error {
	ctx, span := util.StartSpan(ctx, "Backend."+op)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*rawResponse, error) {
		return c.do(ctx, method, path, bearer, payload)
	})
	outcome := "ok"
	defer func() {
		util.BackendRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		outcome = "breaker_open"
		util.RecordError(span, err)
		return apperror.Backend(http.StatusServiceUnavailable, "commerce backend is temporarily unavailable")
	case errors.Is(err, errUpstream):
		outcome = "server_error"
		util.RecordError(span, err)
		return apperror.Backend(resp.status, upstreamMessage(resp.body, "commerce backend failed"))
	case err != nil:
		outcome = "transport_error"
		util.RecordError(span, err)
		c.logger.Error("Backend request failed", zap.String("operation", op), zap.Error(err))
		return &apperror.Error{Kind: apperror.KindBackend, Message: "commerce backend is unreachable", Err: err}
	}

	if resp.status >= 300 {
		outcome = "client_error"
		return &statusError{status: resp.status, message: upstreamMessage(resp.body, http.StatusText(resp.status))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		outcome = "malformed"
		return &apperror.Error{Kind: apperror.KindBackend, Message: "malformed backend response", UpstreamStatus: resp.status, Err: err}
	}
	if err := c.validate.Struct(out); err != nil {
		outcome = "malformed"
		return &apperror.Error{Kind: apperror.KindBackend, Message: "malformed backend response", UpstreamStatus: resp.status, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, payload []byte) (*rawResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if id := util.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	out := &rawResponse{status: resp.StatusCode, body: raw}
	if resp.StatusCode >= 500 {
		return out, errUpstream
	}
	return out, nil
}

// statusError is a non-2xx, non-5xx answer
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.status, e.message)
}

// classify maps a client-error status to the error kind callers see
func classify(err error) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperror.Validation(se.message)
	case http.StatusUnauthorized:
		return apperror.New(apperror.KindUnauthorized, "authentication required")
	case http.StatusForbidden:
		return apperror.New(apperror.KindForbidden, "access denied")
	case http.StatusTooManyRequests:
		return apperror.New(apperror.KindRateLimited, se.message)
	default:
		return apperror.Backend(se.status, se.message)
	}
}

func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// upstreamMessage extracts {"message": "..."} or {"error": {"message": "..."}} from a body
func upstreamMessage(body []byte, fallback string) string {
	var envelope struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
	}
	return fallback
}
