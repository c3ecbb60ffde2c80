package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
)

// HTTPProber probes REST connections.
type HTTPProber struct {
	httpClient *http.Client

	Monitor *ThrottleMonitor
}

// NewHTTPProber creates a prober with a pooled transport. timeout is a hard
// upper bound in addition to the caller's context.
func NewHTTPProber(timeout time.Duration, monitor *ThrottleMonitor) *HTTPProber {
	if monitor == nil {
		monitor = NewThrottleMonitor()
	}
	return &HTTPProber{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: monitor,
	}
}

// BuildURL joins endpoint and path and appends params in their declared order.
func BuildURL(endpoint, path string, params []domain.KeyValue) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint: %v", domain.ErrConfig, err)
	}
	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	if len(params) > 0 {
		var b strings.Builder
		b.WriteString(u.RawQuery)
		for _, p := range params {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(p.Key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(p.Value))
		}
		u.RawQuery = b.String()
	}
	return u.String(), nil
}

// applyHeaders copies connection headers and adds a bearer credential unless
// an Authorization header is already configured.
func applyHeaders(h http.Header, headers []domain.KeyValue, credential string) {
	for _, kv := range headers {
		h.Add(kv.Key, kv.Value)
	}
	if credential != "" && h.Get("Authorization") == "" {
		h.Set("Authorization", "Bearer "+credential)
	}
}

func (p *HTTPProber) Probe(ctx context.Context, conn domain.APIConnection, credential string) Result {
	target, err := BuildURL(conn.Endpoint, conn.Path, conn.Params)
	if err != nil {
		return Failure(err, 0)
	}
	method := conn.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return Failure(fmt.Errorf("%w: create request: %v", domain.ErrConfig, err), 0)
	}
	applyHeaders(req.Header, conn.Headers, credential)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Failure(fmt.Errorf("request: %w", err), time.Since(start))
	}
	defer resp.Body.Close()

	body, size, err := readBounded(resp.Body, MaxBodyBytes)
	latency := time.Since(start)
	if err != nil {
		return Failure(fmt.Errorf("read response: %w", err), latency)
	}

	result := Result{
		Latency:    latency,
		HTTPStatus: resp.StatusCode,
		BodySize:   size,
	}

	// Rate limit and IP block detection
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		p.Monitor.RecordThrottle(conn.ID, resp.StatusCode, resp.Header.Get("Retry-After"))
	case http.StatusForbidden:
		p.Monitor.RecordThrottle(conn.ID, resp.StatusCode, "")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.ErrorKind = domain.ErrorKindNetwork
		result.ErrorMessage = fmt.Sprintf("http %d", resp.StatusCode)
		if p.Monitor.DetectThrottlePattern(string(body)) {
			result.ErrorMessage += ": throttled by provider"
		}
		return result
	}

	p.Monitor.RecordRequest(conn.ID, latency)
	result.Success = true
	result.Body = body
	return result
}

// readBounded keeps up to limit bytes and counts the full body size.
func readBounded(r io.Reader, limit int64) ([]byte, int64, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, 0, err
	}
	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return nil, 0, err
	}
	return body, int64(len(body)) + rest, nil
}

// Close releases idle connections.
func (p *HTTPProber) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
