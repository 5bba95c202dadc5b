package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/troikatech/voice-relay/pkg/circuitbreaker"
	"github.com/troikatech/voice-relay/pkg/metrics"
	"github.com/troikatech/voice-relay/pkg/otel"
	"github.com/troikatech/voice-relay/pkg/retry"
)

// maxBodyBytes bounds how much of an upstream answer we buffer.
const maxBodyBytes = 4 << 20

// Response is a fully read upstream answer.
type Response struct {
	StatusCode int
	Body       []byte
}

// RequestFunc builds a fresh request per attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// HTTPClient wraps http.Client with retry and circuit breaker
type HTTPClient struct {
	client         *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
	serviceName    string
}

// NewHTTPClient creates a new HTTP client with retry and circuit breaker
func NewHTTPClient(serviceName string, timeout time.Duration) *HTTPClient {
	cb := circuitbreaker.New(circuitbreaker.DefaultConfig())
	cb.OnStateChange(func(s circuitbreaker.State) {
		metrics.UpdateCircuitBreaker(serviceName, int(s))
	})
	return &HTTPClient{
		client:         &http.Client{Timeout: timeout},
		circuitBreaker: cb,
		retryConfig:    retry.DefaultConfig(),
		serviceName:    serviceName,
	}
}

// Do sends one attempt through the circuit breaker. Non-2xx answers are
// returned as a Response, not an error; transport failures and 5xx trip the breaker.
func (c *HTTPClient) Do(ctx context.Context, operation string, build RequestFunc) (*Response, error) {
	ctx, end := otel.StartClientSpan(ctx, c.serviceName, operation)
	start := time.Now()

	var resp *Response
	err := c.circuitBreaker.Execute(ctx, func() error {
		var err error
		resp, err = c.send(ctx, build)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s returned %d", c.serviceName, resp.StatusCode)
		}
		return nil
	})

	status := 0
	if resp != nil {
		status = resp.StatusCode
		// 5xx is still a usable response for the caller to classify
		if err != nil && status >= 500 {
			err = nil
		}
	}
	metrics.RecordServiceCall(c.serviceName, err == nil && status < 400, time.Since(start))
	end(status, err)
	return resp, err
}

// DoWithRetry retries transport errors and 5xx answers with backoff.
// An open breaker stops retrying immediately.
func (c *HTTPClient) DoWithRetry(ctx context.Context, operation string, build RequestFunc) (*Response, error) {
	var resp *Response
	err := retry.Do(ctx, c.retryConfig, func() error {
		r, err := c.Do(ctx, operation, build)
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return retry.Permanent(err)
			}
			return err
		}
		resp = r
		if r.StatusCode >= 500 {
			return fmt.Errorf("%s returned %d", c.serviceName, r.StatusCode)
		}
		return nil
	})
	if err != nil && resp != nil && resp.StatusCode >= 500 {
		// exhausted on server errors; let the caller classify the last answer
		return resp, nil
	}
	return resp, err
}

func (c *HTTPClient) send(ctx context.Context, build RequestFunc) (*Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", c.serviceName, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.serviceName, err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// SetRetryConfig overrides the retry policy used by DoWithRetry.
func (c *HTTPClient) SetRetryConfig(cfg retry.Config) {
	c.retryConfig = cfg
}
