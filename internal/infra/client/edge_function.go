// Package client holds outbound HTTP clients for services other than PostgREST.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/campus-market-api/internal/domain"
	"github.com/boddenberg/campus-market-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("client")

// EdgeFunctionClient invokes Supabase edge functions at
// {SUPABASE_URL}/functions/v1/{name}.
type EdgeFunctionClient struct {
	httpClient *http.Client
	baseURL    string
	serviceKey string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewEdgeFunctionClient creates a new EdgeFunctionClient.
func NewEdgeFunctionClient(httpClient *http.Client, baseURL, serviceKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *EdgeFunctionClient {
	return &EdgeFunctionClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		serviceKey: serviceKey,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// Invoke POSTs payload as JSON to the named function. The response body is
// discarded; only the status matters.
func (c *EdgeFunctionClient) Invoke(ctx context.Context, name string, payload any) error {
	ctx, span := tracer.Start(ctx, "EdgeFunction.Invoke")
	defer span.End()
	span.SetAttributes(attribute.String("function.name", name))

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", name, err)
	}
	url := fmt.Sprintf("%s/functions/v1/%s", c.baseURL, name)

	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.serviceKey)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)

			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return nil
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("edge function %s returned status %d", name, resp.StatusCode)
			default:
				return resilience.Permanent(fmt.Errorf("edge function %s returned status %d", name, resp.StatusCode))
			}
		})
	})
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return &domain.ErrCircuitOpen{Service: "edge-functions"}
		}
		c.logger.Warn("edge function failed", zap.String("function", name), zap.Error(err))
		return &domain.ErrExternalService{Service: "edge-functions", Err: err}
	}
	c.logger.Debug("edge function invoked", zap.String("function", name))
	return nil
}
