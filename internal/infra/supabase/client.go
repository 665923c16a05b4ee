// Package supabase provides a client for Supabase (PostgREST + RPC).
// It is the data backend for listings, messaging, notifications, admin
// data and the exec_sql migration path.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// APIError is a non-2xx answer from PostgREST.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// response is what a single round trip produced.
type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes one authenticated request against /rest/v1/<path>, wrapped in
// the circuit breaker and retry policy. 4xx answers are not retried.
func (c *Client) do(ctx context.Context, method, path string, payload any, prefer string) (*response, error) {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
	}
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var out *response
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			var body io.Reader
			if raw != nil {
				body = bytes.NewReader(raw)
			}
			req, err := http.NewRequestWithContext(ctx, method, url, body)
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("apikey", c.apiKey)
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
			req.Header.Set("Content-Type", "application/json")
			if prefer != "" {
				req.Header.Set("Prefer", prefer)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				c.logger.Error("supabase: request failed",
					zap.String("method", method),
					zap.String("path", path),
					zap.Error(err),
				)
				return err
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
				c.logger.Warn("supabase: non-2xx response",
					zap.String("method", method),
					zap.String("path", path),
					zap.Int("status", resp.StatusCode),
					zap.String("body", string(respBody)),
				)
				if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return resilience.Permanent(apiErr)
				}
				return apiErr
			}

			c.logger.Debug("supabase: request OK",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			out = &response{status: resp.StatusCode, header: resp.Header, body: respBody}
			return nil
		})
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "supabase"}
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			return nil, apiErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.ErrTimeout{Operation: method + " " + path}
		}
		return nil, &domain.ErrExternalService{Service: "supabase", Err: err}
	}
	return out, nil
}

// doRequest executes a read against PostgREST and returns the raw body.
// An empty result set comes back as nil.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	resp, err := c.do(ctx, method, path, nil, "")
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNoContent || len(resp.body) == 0 || string(resp.body) == "[]" {
		return nil, nil
	}
	return resp.body, nil
}

// getRows decodes a PostgREST array response into rows.
func getRows[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return []T{}, nil
	}
	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}

// getOne returns the first row of path, or nil when nothing matched.
func getOne[T any](ctx context.Context, c *Client, path string) (*T, error) {
	rows, err := getRows[T](ctx, c, path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Ping checks that PostgREST answers. Used by /healthz.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.doRequest(ctx, http.MethodGet, "profiles?select=id&limit=1")
	return err
}
