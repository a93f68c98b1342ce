package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/cache"
	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/netx"
)

// fetch performs one upstream request and buffers the response. Transport
// failures are returned wrapping common.ErrOffline.
func (c *Coordinator) fetch(ctx context.Context, method, ref string, header http.Header, body io.Reader) (cache.Response, error) {
	target, err := netx.Resolve(c.cfg.Upstream, ref)
	if err != nil {
		return cache.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return cache.Response{}, fmt.Errorf("build request: %w", err)
	}
	if header != nil {
		netx.CopyHeader(req.Header, header)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return cache.Response{}, fmt.Errorf("%w: %v", common.ErrOffline, err)
	}
	b, err := netx.ReadBody(resp)
	if err != nil {
		return cache.Response{}, fmt.Errorf("%w: %v", common.ErrOffline, err)
	}

	h := http.Header{}
	netx.CopyHeader(h, resp.Header)
	h.Del("Content-Length")

	return cache.Response{
		Status:   resp.StatusCode,
		Header:   h,
		Body:     b,
		StoredAt: time.Now().UTC(),
		URL:      ref,
	}, nil
}

func writeResponse(w http.ResponseWriter, r cache.Response, servedFrom string) {
	netx.CopyHeader(w.Header(), r.Header)
	w.Header().Del("Content-Length")
	w.Header().Set(common.ServedFromHeader, servedFrom)
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, servedFrom string, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(common.ServedFromHeader, servedFrom)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// offlineError is the body of a 503 for an API read that has no cached copy.
type offlineError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Cached  bool   `json:"cached"`
}

func writeOfflineAPI(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, common.ServedFromOffline, offlineError{
		Error:   "Offline",
		Message: "You are offline and this data has not been cached yet.",
		Cached:  false,
	})
}

const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Offline</title></head>
<body>
<h1>You are offline</h1>
<p>This page is not available offline. It will load again once the connection is back.</p>
</body>
</html>
`

func writeOfflinePage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set(common.ServedFromHeader, common.ServedFromOffline)
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, offlineHTML)
}

func writeOfflineText(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(common.ServedFromHeader, common.ServedFromOffline)
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, "offline\n")
}
