// Package providers implements HTTP adapters for the supported chat and
// embedding providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/graphflow/types"
)

// baseClient provides the shared HTTP machinery for provider adapters.
type baseClient struct {
	name    string
	client  *http.Client
	baseURL string
	apiKey  string
}

func newBaseClient(name, baseURL, apiKey string, timeout time.Duration) baseClient {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return baseClient{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// doRequest performs a JSON POST and maps HTTP failures to typed errors.
func (c *baseClient) doRequest(ctx context.Context, endpoint string, body any, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrCancelled, "request cancelled").WithCause(ctx.Err())
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithProvider(c.name)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, c.name)
	}

	return respBody, nil
}

// mapHTTPError maps an HTTP status to a typed error. Upstream response bodies
// are never carried verbatim.
func mapHTTPError(status int, provider string) *types.Error {
	code := types.ErrUpstreamError
	retryable := status >= 500
	msg := fmt.Sprintf("provider returned status %d", status)

	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusBadRequest:
		code = types.ErrInvalidRequest
	case http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
		retryable = true
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(provider)
}
