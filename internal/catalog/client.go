package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultCatalogTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	retryWaitTime         = 500 * time.Millisecond
	retryMaxWaitTime      = 5 * time.Second
	maxErrorBodySnippet   = 300
)

// HTTPError is a non-2xx catalog response after retries were exhausted.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Body == "" {
		return fmt.Sprintf("catalog returned status %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("catalog returned status %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// NewHTTPClient builds the resty client for catalog calls. Transport errors, 429 and 5xx
// responses are retried with exponential backoff up to maxRetries times.
func NewHTTPClient(timeout time.Duration, maxRetries int) *resty.Client {
	if timeout <= 0 {
		timeout = defaultCatalogTimeout
	}
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(maxRetries)
	client.SetRetryWaitTime(retryWaitTime)
	client.SetRetryMaxWaitTime(retryMaxWaitTime)
	client.AddRetryCondition(isRetryable)
	return client
}

func isRetryable(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	status := resp.StatusCode()
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (w *Walker) get(ctx context.Context, creds Credentials, apiBase string, path string, params map[string]string) ([]byte, error) {
	endpoint := joinURL(apiBase, path)

	resp, err := w.client.R().
		SetContext(ctx).
		SetHeaders(creds.Headers()).
		SetQueryParams(params).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("catalog request %s failed: %w", path, err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > maxErrorBodySnippet {
			body = body[:maxErrorBodySnippet]
		}
		return nil, &HTTPError{URL: endpoint, StatusCode: resp.StatusCode(), Body: body}
	}
	return resp.Body(), nil
}

func (w *Walker) getList(ctx context.Context, creds Credentials, apiBase string, path string, params map[string]string) ([]item, error) {
	body, err := w.get(ctx, creds, apiBase, path, params)
	if err != nil {
		return nil, err
	}
	return decodeList(body)
}

func (w *Walker) getObject(ctx context.Context, creds Credentials, apiBase string, path string, params map[string]string) (item, error) {
	body, err := w.get(ctx, creds, apiBase, path, params)
	if err != nil {
		return nil, err
	}
	return decodeObject(body)
}

func joinURL(base string, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + strings.TrimLeft(path, "/")
}
