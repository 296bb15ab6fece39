package media

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultMediaRetries   = 2
	mediaRetryWaitTime    = 500 * time.Millisecond
	mediaRetryMaxWaitTime = 5 * time.Second
)

// NewHTTPClient builds the resty client for document and cover downloads. It allows whole
// files to stream for up to defaultDocumentTimeout and retries transport errors and 5xx.
func NewHTTPClient() *resty.Client {
	client := resty.New()
	client.SetTimeout(defaultDocumentTimeout)
	client.SetRetryCount(defaultMediaRetries)
	client.SetRetryWaitTime(mediaRetryWaitTime)
	client.SetRetryMaxWaitTime(mediaRetryMaxWaitTime)
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled)
		}
		return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
	})
	return client
}
