package worker

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/offlinegate/internal/cache"
	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/netx"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
)

// ServeHTTP applies the request policy:
//
//	mutation      network, queued on failure for allow-listed API paths
//	HEAD, OPTIONS network only
//	navigation    network-first, then cached page, then offline page
//	allow-listed  network-first, then cached copy, then 503 JSON
//	other GET     cache-first
func (c *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case isMutation(r.Method):
		c.passThrough(w, r)
		return
	case r.Method != http.MethodGet:
		c.networkOnly(w, r)
		return
	}

	bucket, active := c.liveBucket()
	switch {
	case !active:
		c.networkOnly(w, r)
	case isNavigation(r):
		c.navigate(w, r, bucket)
	case c.cfg.Manifest.IsCacheableAPI(r.URL.Path):
		c.apiNetworkFirst(w, r, bucket)
	default:
		c.cacheFirst(w, r, bucket)
	}
}

// isMutation reports whether method changes server state and may be queued.
func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func (c *Coordinator) passThrough(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := netx.ReadLimited(r.Body)
	if errors.Is(err, common.ErrBodyTooLarge) {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}

	resp, err := c.fetch(ctx, r.Method, r.URL.RequestURI(), r.Header, bytes.NewReader(body))
	if err == nil {
		writeResponse(w, resp, common.ServedFromNetwork)
		return
	}
	c.logger.Debug(ctx, "mutation failed", "method", r.Method, "path", r.URL.Path, "error", err)

	if c.cfg.QueueFailedMutations && c.queue != nil && c.cfg.Manifest.IsCacheableAPI(r.URL.Path) {
		a, qerr := c.queue.Enqueue(ctx, queue.Action{
			URL:     r.URL.RequestURI(),
			Method:  r.Method,
			Headers: netx.FlatHeader(r.Header),
			Body:    string(body),
		})
		if qerr == nil {
			writeJSON(w, http.StatusAccepted, common.ServedFromQueue, map[string]any{
				"queued": true,
				"id":     a.ID,
				"type":   a.Type,
			})
			return
		}
		c.logger.Error(ctx, "could not queue mutation", "method", r.Method, "path", r.URL.Path, "error", qerr)
	}
	writeOfflineAPI(w)
}

func (c *Coordinator) networkOnly(w http.ResponseWriter, r *http.Request) {
	resp, err := c.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, nil)
	if err != nil {
		c.writeOffline(w, r)
		return
	}
	writeResponse(w, resp, common.ServedFromNetwork)
}

func (c *Coordinator) navigate(w http.ResponseWriter, r *http.Request, b *cache.Bucket) {
	ctx := r.Context()
	key := cache.Key(http.MethodGet, r.URL.RequestURI())

	resp, err := c.fetch(ctx, http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err == nil {
		c.store200(ctx, b, key, resp)
		writeResponse(w, resp, common.ServedFromNetwork)
		return
	}

	if cached, ok := c.match(ctx, b, key); ok {
		writeResponse(w, cached, common.ServedFromCache)
		return
	}
	if p := c.cfg.Manifest.OfflinePage; p != "" {
		if cached, ok := c.match(ctx, b, cache.Key(http.MethodGet, p)); ok {
			writeResponse(w, cached, common.ServedFromCache)
			return
		}
	}
	writeOfflinePage(w)
}

func (c *Coordinator) apiNetworkFirst(w http.ResponseWriter, r *http.Request, b *cache.Bucket) {
	ctx := r.Context()
	key := cache.Key(http.MethodGet, r.URL.RequestURI())

	resp, err := c.fetch(ctx, http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err == nil {
		if resp.Status == http.StatusOK {
			c.store200(ctx, b, key, resp)
			c.mirror(ctx, r.URL.Path, resp.Body)
		}
		writeResponse(w, resp, common.ServedFromNetwork)
		return
	}

	if cached, ok := c.match(ctx, b, key); ok {
		writeResponse(w, cached, common.ServedFromCache)
		return
	}
	writeOfflineAPI(w)
}

func (c *Coordinator) cacheFirst(w http.ResponseWriter, r *http.Request, b *cache.Bucket) {
	ctx := r.Context()
	key := cache.Key(http.MethodGet, r.URL.RequestURI())

	if cached, ok := c.match(ctx, b, key); ok {
		writeResponse(w, cached, common.ServedFromCache)
		return
	}

	resp, err := c.fetch(ctx, http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err != nil {
		writeOfflineText(w)
		return
	}
	c.store200(ctx, b, key, resp)
	writeResponse(w, resp, common.ServedFromNetwork)
}

func (c *Coordinator) writeOffline(w http.ResponseWriter, r *http.Request) {
	switch {
	case isNavigation(r):
		writeOfflinePage(w)
	case c.cfg.Manifest.IsCacheableAPI(r.URL.Path):
		writeOfflineAPI(w)
	default:
		writeOfflineText(w)
	}
}

// store200 caches resp when it is a 200. Cache write errors are logged; the
// live response is still returned.
func (c *Coordinator) store200(ctx context.Context, b *cache.Bucket, key string, resp cache.Response) {
	if resp.Status != http.StatusOK {
		return
	}
	if err := b.Put(ctx, key, resp); err != nil {
		c.logger.Warn(ctx, "cache write failed", "key", key, "error", err)
	}
}

func (c *Coordinator) match(ctx context.Context, b *cache.Bucket, key string) (cache.Response, bool) {
	resp, ok, err := b.Match(ctx, key)
	if err != nil {
		c.logger.Warn(ctx, "cache read failed", "key", key, "error", err)
		return cache.Response{}, false
	}
	return resp, ok
}
