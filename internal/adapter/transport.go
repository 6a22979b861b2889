package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opsgateway/issuegateway/internal/apierrors"
)

// DefaultTimeout is the default HTTP client timeout per adapter instance,
// per spec §5.
const DefaultTimeout = 30 * time.Second

// Transport is embedded by each backend adapter. It owns the instance's
// HTTP client and a per-instance circuit breaker so a flapping upstream
// cannot be hammered by every subsequent call; an open breaker fails fast
// with Upstream5xx instead of making the request.
type Transport struct {
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	baseURL    string
	instanceID string
}

// NewTransport builds a Transport for one backend instance. Backend
// subpackages (jira, githubadapter, asana, linear, clickup) each hold one
// of these and drive it through Do/DoJSON.
func NewTransport(instanceID, baseURL string) *Transport {
	return &Transport{
		client:     &http.Client{Timeout: DefaultTimeout},
		baseURL:    baseURL,
		instanceID: instanceID,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "adapter-" + instanceID,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// BaseURL returns the instance's configured base URL.
func (t *Transport) BaseURL() string { return t.baseURL }

// rawRequest describes an outbound call before auth headers are applied.
type rawRequest struct {
	Method  string
	URL     string
	Body    any // JSON-marshaled if non-nil
	Headers map[string]string
}

// Do executes a request against path (relative to baseURL) through the
// circuit breaker, mapping failures to the closed error taxonomy. authHeader
// lets each adapter apply its own instance-scoped auth headers without the
// transport needing to know the auth scheme.
func (t *Transport) Do(ctx context.Context, method, path string, body any, authHeader func(*http.Request)) ([]byte, int, error) {
	req := rawRequest{
		Method: method,
		URL:    joinURL(t.baseURL, path),
		Body:   body,
	}
	return t.do(ctx, req, authHeader)
}

// DoJSON is Do plus JSON-decoding the response body into out (skipped when
// out is nil, e.g. for 204 responses).
func (t *Transport) DoJSON(ctx context.Context, method, path string, body any, authHeader func(*http.Request), out any) ([]byte, int, error) {
	respBody, status, err := t.Do(ctx, method, path, body, authHeader)
	if err != nil {
		return respBody, status, err
	}
	if out != nil && len(respBody) > 0 {
		if jerr := json.Unmarshal(respBody, out); jerr != nil {
			return respBody, status, fmt.Errorf("decoding response body: %w", jerr)
		}
	}
	return respBody, status, nil
}

func joinURL(baseURL, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (t *Transport) do(ctx context.Context, req rawRequest, headerFn func(*http.Request)) ([]byte, int, error) {
	result, err := t.breaker.Execute(func() (any, error) {
		var bodyReader io.Reader
		if req.Body != nil {
			b, merr := json.Marshal(req.Body)
			if merr != nil {
				return nil, fmt.Errorf("marshaling request body: %w", merr)
			}
			bodyReader = bytes.NewReader(b)
		}

		httpReq, nerr := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
		if nerr != nil {
			return nil, nerr
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if headerFn != nil {
			headerFn(httpReq)
		}

		resp, derr := t.client.Do(httpReq)
		if derr != nil {
			return nil, derr
		}
		defer resp.Body.Close()

		respBody, rerr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if rerr != nil {
			return nil, rerr
		}

		if resp.StatusCode >= 500 {
			return nil, upstreamStatusError{status: resp.StatusCode, body: respBody}
		}

		return httpResult{status: resp.StatusCode, body: respBody}, nil
	})

	if err != nil {
		return nil, 0, classifyTransportError(err)
	}

	r := result.(httpResult)
	return r.body, r.status, classifyResponseStatus(r.status, r.body)
}

type httpResult struct {
	status int
	body   []byte
}

type upstreamStatusError struct {
	status int
	body   []byte
}

func (e upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.status)
}

func classifyTransportError(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apierrors.Upstream5xx(0, "circuit breaker open", err)
	}
	if use, ok := err.(upstreamStatusError); ok {
		return apierrors.Upstream5xx(use.status, snippet(use.body), err)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return apierrors.Timeout("adapter request timed out", err)
	}
	return apierrors.NetworkError("adapter request failed", err)
}

// classifyResponseStatus maps a successful (< 500) HTTP status to the error
// taxonomy; nil for 2xx.
func classifyResponseStatus(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return apierrors.RateLimited("upstream rate limit", 1)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apierrors.Unauthorized("upstream rejected credentials")
	case status == http.StatusNotFound:
		return apierrors.NotFound("upstream resource not found", nil)
	case status >= 400:
		return apierrors.Upstream4xx(status, snippet(body), nil)
	default:
		return nil
	}
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
