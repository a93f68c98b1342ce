package queue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Method string
	Path   string
	Body   string
	Replay string
	Auth   string
}

// upstream records every request and answers with the status returned by
// respond.
type upstream struct {
	mu      sync.Mutex
	calls   []call
	respond func(r *http.Request) int
	srv     *httptest.Server
}

func newUpstream(t *testing.T, respond func(r *http.Request) int) *upstream {
	t.Helper()
	u := &upstream{respond: respond}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		u.mu.Lock()
		u.calls = append(u.calls, call{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   string(b),
			Replay: r.Header.Get(ReplayHeader),
			Auth:   r.Header.Get("Authorization"),
		})
		u.mu.Unlock()
		w.WriteHeader(u.respond(r))
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) Calls() []call {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]call(nil), u.calls...)
}

func (u *upstream) base(t *testing.T) *url.URL {
	t.Helper()
	b, err := url.Parse(u.srv.URL)
	require.NoError(t, err)
	return b
}

func fixedClock(start int64) func() time.Time {
	var mu sync.Mutex
	n := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return time.UnixMilli(n)
	}
}

func newQueue(t *testing.T, up *upstream, opts ...Option) *Queue {
	t.Helper()
	opts = append([]Option{WithBaseURL(up.base(t)), WithClock(fixedClock(1000)), WithReplayTimeout(2 * time.Second)}, opts...)
	return New(store.NewMemory(), up.srv.Client(), nil, opts...)
}

func TestEnqueue_Defaults(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusCreated })
	q := newQueue(t, up)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST", Body: `{"title":"X"}`, RetryCount: 5, ID: 77})
	require.NoError(t, err)
	assert.Positive(t, a.ID)
	assert.NotEqual(t, int64(77), a.ID)
	assert.Equal(t, "CREATE_EVENT", a.Type)
	assert.Equal(t, 0, a.RetryCount)
	assert.Equal(t, int64(1001), a.Timestamp)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a, list[0])

	_, err = q.Enqueue(ctx, Action{Method: "POST"})
	assert.Error(t, err)
}

func TestEnqueue_WireShape(t *testing.T) {
	s := store.NewMemory()
	q := New(s, http.DefaultClient, nil, WithClock(fixedClock(0)))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, Action{URL: "/api/messages", Method: "POST", Body: `{"text":"hi"}`,
		Headers: map[string]string{"Content-Type": "application/json"}})
	require.NoError(t, err)

	raw, err := s.Get(ctx, store.OfflineActions, "1")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "SEND_MESSAGE", doc["type"])
	assert.Equal(t, "/api/messages", doc["url"])
	assert.Equal(t, "POST", doc["method"])
	assert.Equal(t, `{"text":"hi"}`, doc["body"])
	assert.EqualValues(t, a.Timestamp, doc["timestamp"])
	assert.EqualValues(t, 0, doc["retryCount"])
	assert.EqualValues(t, 1, doc["id"])
	assert.Equal(t, map[string]any{"Content-Type": "application/json"}, doc["headers"])
}

func TestEnqueue_HookRuns(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusOK })
	q := newQueue(t, up)

	var got []Action
	q.OnEnqueue(func(_ context.Context, a Action) { got = append(got, a) })

	a, err := q.Enqueue(context.Background(), Action{URL: "/api/venues/1", Method: "DELETE"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
}

func TestDrain_FIFOOrder(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusOK })
	q := newQueue(t, up)
	ctx := context.Background()

	for _, p := range []string{"/api/events", "/api/messages", "/api/venues/3"} {
		_, err := q.Enqueue(ctx, Action{URL: p, Method: "POST"})
		require.NoError(t, err)
	}

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Attempted: 3, Succeeded: 3}, res)

	calls := up.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "/api/events", calls[0].Path)
	assert.Equal(t, "/api/messages", calls[1].Path)
	assert.Equal(t, "/api/venues/3", calls[2].Path)
	for _, c := range calls {
		assert.Equal(t, "1", c.Replay)
	}

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrain_OrdersByTimestampNotID(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusOK })
	q := newQueue(t, up)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Action{URL: "/api/messages", Method: "POST", Timestamp: 500})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST", Timestamp: 100})
	require.NoError(t, err)

	_, err = q.Drain(ctx)
	require.NoError(t, err)

	calls := up.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/api/events", calls[0].Path)
	assert.Equal(t, "/api/messages", calls[1].Path)
}

func TestDrain_BoundedRetry(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusInternalServerError })
	q := newQueue(t, up)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST"})
	require.NoError(t, err)

	for i := 1; i <= MaxRetries; i++ {
		res, err := q.Drain(ctx)
		require.NoError(t, err)
		assert.Equal(t, DrainResult{Attempted: 1, Failed: 1, Remaining: 1}, res)

		list, err := q.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, i, list[0].RetryCount)
	}

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Attempted: 1, Dropped: 1}, res)

	list, err := q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, up.Calls(), MaxRetries+1)

	res, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Len(t, up.Calls(), MaxRetries+1)
}

func TestDrain_TransportFailureCountsAsRetry(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusOK })
	q := newQueue(t, up)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST"})
	require.NoError(t, err)

	up.srv.Close()

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].RetryCount)
}

func TestDrain_PartialFailureKeepsOthersRemoved(t *testing.T) {
	up := newUpstream(t, func(r *http.Request) int {
		if r.URL.Path == "/api/messages" {
			return http.StatusBadGateway
		}
		return http.StatusNoContent
	})
	q := newQueue(t, up)
	ctx := context.Background()

	for _, p := range []string{"/api/events", "/api/messages", "/api/venues"} {
		_, err := q.Enqueue(ctx, Action{URL: p, Method: "POST"})
		require.NoError(t, err)
	}

	var replayed []string
	q.OnReplayed(func(_ context.Context, a Action) { replayed = append(replayed, a.URL) })

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Attempted: 3, Succeeded: 2, Failed: 1, Remaining: 1}, res)
	assert.Equal(t, []string{"/api/events", "/api/venues"}, replayed)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/api/messages", list[0].URL)
	assert.Equal(t, 1, list[0].RetryCount)
}

func TestOfflineCreateScenario(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusCreated })
	q := newQueue(t, up)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Action{
		URL:     "/api/events",
		Method:  "POST",
		Body:    `{"title":"X"}`,
		Headers: map[string]string{"Content-Type": "application/json", "Authorization": "Bearer t"},
	})
	require.NoError(t, err)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "CREATE_EVENT", list[0].Type)
	assert.Equal(t, 0, list[0].RetryCount)

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	calls := up.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, call{Method: "POST", Path: "/api/events", Body: `{"title":"X"}`, Replay: "1", Auth: "Bearer t"}, calls[0])

	list, err = q.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDuplicateEnqueue(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusOK })
	q := newQueue(t, up)
	ctx := context.Background()

	a := Action{URL: "/api/messages", Method: "POST", Body: `{"text":"hi"}`}
	first, err := q.Enqueue(ctx, a)
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, a)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Len(t, up.Calls(), 2)
}

func TestRemoveAndClear(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusOK })
	q := newQueue(t, up)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Action{URL: "/api/venues", Method: "POST"})
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, a.ID))
	require.NoError(t, q.Remove(ctx, a.ID))
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, q.Clear(ctx))
	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestDrain_CanceledContextLeavesRestQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var paths []string
	client := doerFunc(func(r *http.Request) (*http.Response, error) {
		paths = append(paths, r.URL.Path)
		cancel()
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	q := New(store.NewMemory(), client, nil, WithClock(fixedClock(0)))

	for _, p := range []string{"/api/events", "/api/venues"} {
		_, err := q.Enqueue(context.Background(), Action{URL: p, Method: "POST"})
		require.NoError(t, err)
	}

	res, err := q.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, DrainResult{Attempted: 1, Succeeded: 1, Remaining: 1}, res)
	assert.Equal(t, []string{"/api/events"}, paths)

	list, err := q.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/api/venues", list[0].URL)
	assert.Equal(t, 0, list[0].RetryCount)
}

// blockingDoer fails every request, holding each one until release is closed.
func blockingDoer(started chan<- string, release <-chan struct{}) doerFunc {
	return func(r *http.Request) (*http.Response, error) {
		started <- r.URL.Path
		<-release
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
}

func TestDrain_RemovedDuringPassStaysRemoved(t *testing.T) {
	tests := []struct {
		name   string
		remove func(q *Queue, first Action) error
		want   []string
	}{
		{
			name:   "remove",
			remove: func(q *Queue, first Action) error { return q.Remove(context.Background(), first.ID) },
			want:   []string{"/api/venues"},
		},
		{
			name:   "clear",
			remove: func(q *Queue, _ Action) error { return q.Clear(context.Background()) },
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan string, 2)
			release := make(chan struct{})
			q := New(store.NewMemory(), blockingDoer(started, release), nil, WithClock(fixedClock(0)))
			ctx := context.Background()

			first, err := q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST"})
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, Action{URL: "/api/venues", Method: "POST"})
			require.NoError(t, err)

			done := make(chan DrainResult, 1)
			go func() {
				res, _ := q.Drain(ctx)
				done <- res
			}()

			assert.Equal(t, "/api/events", <-started)
			require.NoError(t, tt.remove(q, first))
			close(release)

			select {
			case res := <-done:
				assert.Equal(t, 2, res.Failed)
			case <-time.After(5 * time.Second):
				t.Fatal("drain did not finish")
			}

			list, err := q.List(ctx)
			require.NoError(t, err)
			urls := make([]string, 0, len(list))
			for _, a := range list {
				urls = append(urls, a.URL)
				assert.Equal(t, 1, a.RetryCount)
			}
			assert.Equal(t, tt.want, urls)
		})
	}
}

func TestRemove_OutsidePassNotRemembered(t *testing.T) {
	up := newUpstream(t, func(*http.Request) int { return http.StatusInternalServerError })
	q := newQueue(t, up)
	ctx := context.Background()

	a, err := q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST"})
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, a.ID))

	b, err := q.Enqueue(ctx, Action{URL: "/api/events", Method: "POST"})
	require.NoError(t, err)

	res, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	list, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}
