package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/dmitrijs2005/offlinegate/internal/cache"
	"github.com/dmitrijs2005/offlinegate/internal/manifest"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"github.com/dmitrijs2005/offlinegate/internal/store"
	"github.com/stretchr/testify/require"
)

// switchDoer forwards to a real client until it is switched off, then fails
// every request like an unreachable network would.
type switchDoer struct {
	client *http.Client
	down   atomic.Bool
	calls  atomic.Int32
}

func (d *switchDoer) Do(r *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	if d.down.Load() {
		return nil, errors.New("dial tcp: connect: network is unreachable")
	}
	return d.client.Do(r)
}

func backend() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html", "/about":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>page " + r.URL.Path + "</h1>"))
		case "/offline.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<h1>offline page</h1>"))
		case "/manifest.json":
			_, _ = w.Write([]byte(`{"name":"app"}`))
		case "/favicon.ico", "/static/app.js":
			_, _ = w.Write([]byte("asset " + r.URL.Path))
		case "/api/events":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(`{"id":3}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":1,"title":"A"},{"id":2,"title":"B"}]`))
		case "/api/notifications":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":[{"id":"n1","title":"hi"}]}`))
		case "/api/users/me":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"Ann"}`))
		default:
			http.NotFound(w, r)
		}
	})
}

type fixture struct {
	coord  *Coordinator
	doer   *switchDoer
	caches *cache.Storage
	store  *store.Memory
	queue  *queue.Queue
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	srv := httptest.NewServer(backend())
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)

	caches, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = caches.Close() })

	doer := &switchDoer{client: srv.Client()}
	mem := store.NewMemory()
	q := queue.New(mem, doer, nil, queue.WithBaseURL(base))

	cfg := Config{
		Upstream:             base,
		Version:              "1",
		Manifest:             manifest.Default(),
		SkipWaiting:          true,
		QueueFailedMutations: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &fixture{
		coord:  New(cfg, caches, mem, q, doer, nil),
		doer:   doer,
		caches: caches,
		store:  mem,
		queue:  q,
	}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.coord.Start(context.Background()))
}

func (f *fixture) get(path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.coord.ServeHTTP(rec, req)
	return rec
}
