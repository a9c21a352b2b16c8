// Package validator probes tenant access tokens and classifies the reply into
// the fixed validation status taxonomy.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wellgone/augment-token-manager-worker/internal/adapter/tenant"
	"github.com/wellgone/augment-token-manager-worker/internal/domain"
	"github.com/wellgone/augment-token-manager-worker/internal/metrics"
	"github.com/wellgone/augment-token-manager-worker/internal/telemetry"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 5
)

var (
	// ErrMissingInput is returned when the token or tenant URL is empty.
	ErrMissingInput = errors.New("token and tenant URL are required")
	// ErrRequestTimeout is returned when the probe exceeds the configured timeout.
	ErrRequestTimeout = errors.New("request timeout")
)

// NetworkError wraps a transport failure other than a timeout.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TokenPair is one batch input.
type TokenPair struct {
	Token     string
	TenantURL string
}

// BatchOptions tunes ValidateTokensBatch.
type BatchOptions struct {
	Concurrency int
}

// BatchResult holds either a classification or the error of one probe.
type BatchResult struct {
	Result *domain.TokenValidationResult
	Err    error
}

// Options configures a Validator.
type Options struct {
	Timeout time.Duration
	Debug   bool
	Tracer  trace.Tracer
	Metrics *metrics.Metrics
}

// Validator classifies tokens against the tenant find-missing endpoint.
type Validator struct {
	client  tenant.Client
	timeout time.Duration
	debug   bool
	tracer  trace.Tracer
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New constructs a Validator.
func New(client tenant.Client, opts Options, logger *zap.Logger) *Validator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(telemetry.InstrumentationName)
	}
	return &Validator{
		client:  client,
		timeout: opts.Timeout,
		debug:   opts.Debug,
		tracer:  opts.Tracer,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// ValidateToken probes one token. Classification outcomes are returned as
// data; only missing input, timeouts and transport failures are errors.
func (v *Validator) ValidateToken(ctx context.Context, token, tenantURL string) (*domain.TokenValidationResult, error) {
	if token == "" || tenantURL == "" {
		return nil, ErrMissingInput
	}

	ctx, span := v.tracer.Start(ctx, "validator.validate_token", trace.WithAttributes(
		attribute.String("tenant.url", tenantURL),
	))
	defer span.End()

	probeCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.client.FindMissing(probeCtx, tenantURL, token)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			err = ErrRequestTimeout
		} else {
			err = &NetworkError{Err: err}
		}
		telemetry.Fail(span, err)
		v.metrics.ObserveValidation(string(domain.StatusError))
		return nil, err
	}

	debugInfo := &domain.DebugInfo{
		RequestURL: resp.URL,
		RequestHeaders: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + redact(token),
		},
		RequestBody:        "{}",
		ResponseHeaders:    resp.Headers,
		ResponseBody:       resp.Body,
		ResponseStatusText: resp.StatusText,
	}
	if v.debug {
		v.log().Debug("token validation exchange",
			zap.String("request_url", debugInfo.RequestURL),
			zap.Any("request_headers", debugInfo.RequestHeaders),
			zap.Int("response_status", resp.StatusCode),
			zap.String("response_status_text", resp.StatusText),
			zap.Any("response_headers", resp.Headers),
			zap.String("response_body", resp.Body),
		)
	}

	result := Classify(resp.StatusCode, resp.Body)
	if v.debug {
		result.DebugInfo = debugInfo
	}
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.String("validation.status", string(result.Status)),
	)
	v.metrics.ObserveValidation(string(result.Status))
	return &result, nil
}

// Classify maps a probe reply onto the status taxonomy. Body keywords take
// precedence over the status code; the first matching rule wins.
func Classify(statusCode int, body string) domain.TokenValidationResult {
	lower := strings.ToLower(body)
	r := domain.TokenValidationResult{ResponseCode: statusCode, ResponseBody: body}

	switch {
	case strings.Contains(lower, "suspended"):
		r.IsBanned = true
		r.Status = domain.StatusSuspended
		r.ErrorMessage = "Account is suspended based on response content"
	case strings.Contains(lower, "invalid token"):
		r.Status = domain.StatusInvalidToken
		r.ErrorMessage = "Token is invalid"
	case statusCode >= 200 && statusCode < 300:
		r.IsValid = true
		r.Status = domain.StatusActive
	case statusCode == 401:
		r.IsBanned = true
		r.Status = domain.StatusUnauthorized
		r.ErrorMessage = "Token is invalid or account is banned"
	case statusCode == 403:
		r.IsBanned = true
		r.Status = domain.StatusForbidden
		r.ErrorMessage = "Access forbidden - account may be banned"
	case statusCode == 429:
		r.IsValid = true
		r.Status = domain.StatusRateLimited
		r.ErrorMessage = "Rate limited - account is active but throttled"
	case statusCode >= 500 && statusCode < 600:
		r.Status = domain.StatusServerError
		r.ErrorMessage = "Server error - cannot determine ban status"
	default:
		r.IsBanned = true
		r.Status = domain.StatusUnknownError
		r.ErrorMessage = "Unknown error - possible ban: " + body
	}
	return r
}

// ValidateTokensBatch validates pairs in sequential chunks of opts.Concurrency.
// Chunk k+1 starts only after every probe of chunk k has settled, so at most
// Concurrency requests are in flight. The output is index aligned with pairs.
func (v *Validator) ValidateTokensBatch(ctx context.Context, pairs []TokenPair, opts BatchOptions) []BatchResult {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]BatchResult, len(pairs))
	for start := 0; start < len(pairs); start += concurrency {
		end := min(start+concurrency, len(pairs))

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := v.ValidateToken(ctx, pairs[i].Token, pairs[i].TenantURL)
				results[i] = BatchResult{Result: res, Err: err}
				return nil
			})
		}
		_ = g.Wait()

		v.log().Debug("validation chunk settled",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("total", len(pairs)),
		)
	}
	return results
}

// QuickCheck is a non-failing probe; errors map to ERROR.
func (v *Validator) QuickCheck(ctx context.Context, token, tenantURL string) domain.QuickCheckResult {
	result, err := v.ValidateToken(ctx, token, tenantURL)
	if err != nil {
		return domain.QuickCheckResult{Status: domain.StatusError}
	}
	return domain.QuickCheckResult{
		IsValid:  result.IsValid,
		IsBanned: result.IsBanned,
		Status:   result.Status,
	}
}

func (v *Validator) log() *zap.Logger {
	if v != nil && v.logger != nil {
		return v.logger
	}
	return zap.L()
}

func redact(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", token[:4], token[len(token)-4:])
}
