// Package backend is the HTTP client for the remote crew backend. Every
// call runs through a circuit breaker, carries a trace span and is counted
// in the metrics collector.
package backend

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

	"crewcanvas/infrastructure/observability"
	apperrors "crewcanvas/pkg/errors"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	breakerName     = "crew-backend"
	maxResponseSize = 8 << 20
)

// Config configures the client
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
	// BreakerFailures consecutive failures open the breaker for BreakerTimeout
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client talks JSON over HTTP to the crew backend
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	metrics *observability.Collector
	logger  *zap.Logger
}

// NewClient creates a backend client. metrics may be nil.
func NewClient(cfg Config, metrics *observability.Collector, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	c := &Client{
		baseURL: base,
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: cfg.Timeout},
		tracer:  observability.Tracer("backend"),
		metrics: metrics,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, float64(to))
		},
		// Caller mistakes say nothing about backend health
		IsSuccessful: func(err error) bool {
			return err == nil ||
				apperrors.IsValidation(err) ||
				apperrors.IsNotFound(err) ||
				apperrors.IsType(err, apperrors.ErrorTypeConflict)
		},
	})
	return c, nil
}

// do performs one JSON request. body and out may be nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, op, method, path, query, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = apperrors.NewUnavailableError(breakerName).WithCause(err)
	}
	c.metrics.RecordBackendCall(op, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug("Backend call failed",
			zap.String("operation", op),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewInternalError("encode " + op + " request").WithCause(err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return apperrors.NewInternalError("build " + op + " request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.NewTimeoutError(op).WithCause(err)
		}
		return apperrors.NewNetworkError(fmt.Sprintf("%s: backend unreachable", op), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return apperrors.NewNetworkError(fmt.Sprintf("%s: read response", op), err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(op, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewExternalError(fmt.Sprintf("%s: malformed response", op), err)
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy
func statusError(op string, status int, body []byte) error {
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}

	var appErr *apperrors.AppError
	switch {
	case status == http.StatusNotFound:
		appErr = apperrors.NewNotFoundError(op + " target")
		appErr.Message = fmt.Sprintf("%s: %s", op, msg)
	case status == http.StatusConflict:
		appErr = apperrors.NewConflictError(fmt.Sprintf("%s: %s", op, msg))
	case status >= 400 && status < 500:
		appErr = apperrors.NewValidationError(fmt.Sprintf("%s: %s", op, msg))
	default:
		appErr = apperrors.NewExternalError(fmt.Sprintf("%s: backend returned %d: %s", op, status, msg), nil)
	}
	return appErr.WithDetail("status", status)
}

// errorMessage extracts a readable message from the usual error bodies:
// {"detail": "..."}, {"error": "..."} or {"message": "..."}
func errorMessage(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			switch v := parsed[key].(type) {
			case string:
				return v
			case nil:
			default:
				if b, err := json.Marshal(v); err == nil {
					return string(b)
				}
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// State reports the breaker state
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}
