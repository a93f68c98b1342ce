// Package netx holds the HTTP plumbing shared by the coordinator, the queue
// replayer and the connectivity probe.
package netx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/common"
)

// Doer is the subset of *http.Client used by the gateway.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed: %d %s; body: %s", e.Method, e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// MaxBodySize caps how much of an upstream body is buffered in memory.
const MaxBodySize = 10 << 20

// hop-by-hop headers are meaningful for a single connection only.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// NewClient returns an http.Client with an overall request timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// IsSuccess reports whether code is 2xx.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}

// Resolve makes ref absolute against base. Absolute references are
// returned unchanged; a nil base leaves ref as is.
func Resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	if u.IsAbs() || base == nil {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}

// IsNetworkError reports whether err came from the transport rather than
// from an HTTP status.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	return !errors.As(err, &se)
}

// Send performs one request and treats anything but 2xx as an error.
// Transport failures wrap common.ErrOffline.
func Send(ctx context.Context, c Doer, method, target string, header map[string]string, body string) error {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrOffline, err)
	}
	defer resp.Body.Close()

	if !IsSuccess(resp.StatusCode) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ReadBody reads at most MaxBodySize bytes and closes the body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := ReadLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}
	return b, nil
}

// ReadLimited reads r to the end. A body longer than MaxBodySize is an
// error wrapping common.ErrBodyTooLarge, never a truncated read.
func ReadLimited(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	b, err := io.ReadAll(io.LimitReader(r, MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxBodySize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", common.ErrBodyTooLarge, MaxBodySize)
	}
	return b, nil
}

// CopyHeader copies end-to-end headers from src into dst.
func CopyHeader(dst, src http.Header) {
	for k, vv := range src {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// FlatHeader keeps the first value of every end-to-end header.
func FlatHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop || len(vv) == 0 {
			continue
		}
		out[k] = vv[0]
	}
	return out
}
