// Package httpcall provides the outbound HTTP port used by call_api
// action nodes. The default implementation is backed by resty.
package httpcall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrHTTPStatus indicates the remote endpoint answered with a non-2xx
// status. Callers that only care about transport failures can filter
// it out with errors.Is.
var ErrHTTPStatus = errors.New("http status code not 2xx")

// DefaultTimeout bounds a request when the caller supplies none.
const DefaultTimeout = 30 * time.Second

// Request describes one outbound HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    string
	// Timeout bounds this single request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Silent suppresses the status check, returning the response
	// as-is even when the status is not 2xx.
	Silent bool
}

// Response is the outcome of a completed call.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       string
}

// Client performs outbound HTTP requests.
type Client interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

type restyClient struct {
	client *resty.Client
}

// New creates a resty-backed client. The same instance is safe for
// concurrent use.
func New() Client {
	return &restyClient{client: resty.New()}
}

func (c *restyClient) Do(ctx context.Context, req Request) (*Response, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := c.client.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r = r.SetHeaders(req.Headers)
	}
	if len(req.Query) > 0 {
		r = r.SetQueryParams(req.Query)
	}
	if req.Body != "" {
		r = r.SetBody([]byte(req.Body))
	}

	rsp, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	out := &Response{
		StatusCode: rsp.StatusCode(),
		Headers:    rsp.Header(),
		Body:       string(rsp.Body()),
	}
	if !req.Silent && !rsp.IsSuccess() {
		return out, fmt.Errorf("%w: %d", ErrHTTPStatus, rsp.StatusCode())
	}
	return out, nil
}
