package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/offlinegate/internal/cryptox"
	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"github.com/dmitrijs2005/offlinegate/internal/netx"
	"github.com/dmitrijs2005/offlinegate/internal/store"
)

// ReplayHeader marks requests issued by a drain so the backend can tell a
// replay from a live call.
const ReplayHeader = "X-Offline-Replay"

const defaultReplayTimeout = 15 * time.Second

// Sealer encrypts header values before they are persisted.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(token string) ([]byte, error)
}

// sealedHeaders are the headers whose values a Sealer protects at rest.
var sealedHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
}

// Hook observes queue events. Hooks must not block for long.
type Hook func(ctx context.Context, a Action)

// DrainResult summarizes one replay pass.
type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Remaining int `json:"remaining"`
}

// Queue is the offline action queue.
type Queue struct {
	store         store.Store
	client        netx.Doer
	logger        logging.Logger
	base          *url.URL
	replayTimeout time.Duration
	maxRetries    int
	now           func() time.Time
	sealer        Sealer

	hooksMu    sync.RWMutex
	onEnqueue  []Hook
	onReplayed []Hook

	// drainMu keeps passes from overlapping.
	drainMu sync.Mutex

	// removeMu orders Remove and Clear against the commit of a pass. While
	// a pass runs, removals are recorded so its retry writes skip them.
	removeMu sync.Mutex
	draining bool
	removed  map[int64]struct{}
	cleared  bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithBaseURL resolves relative action URLs against base.
func WithBaseURL(base *url.URL) Option {
	return func(q *Queue) { q.base = base }
}

func WithReplayTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.replayTimeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// WithSealer encrypts credential headers of queued actions at rest.
func WithSealer(s Sealer) Option {
	return func(q *Queue) { q.sealer = s }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New returns a queue persisting into s and replaying through client.
func New(s store.Store, client netx.Doer, logger logging.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{
		store:         s,
		client:        client,
		logger:        logger.With("module", "queue"),
		replayTimeout: defaultReplayTimeout,
		maxRetries:    MaxRetries,
		now:           time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// OnEnqueue registers a hook called after an action has been persisted.
func (q *Queue) OnEnqueue(h Hook) {
	q.hooksMu.Lock()
	defer q.hooksMu.Unlock()
	q.onEnqueue = append(q.onEnqueue, h)
}

// OnReplayed registers a hook called for every successfully replayed action.
func (q *Queue) OnReplayed(h Hook) {
	q.hooksMu.Lock()
	defer q.hooksMu.Unlock()
	q.onReplayed = append(q.onReplayed, h)
}

// Enqueue persists a as a fresh action and returns it with its assigned id.
// Identical actions are not merged.
func (q *Queue) Enqueue(ctx context.Context, a Action) (Action, error) {
	if a.URL == "" {
		return Action{}, fmt.Errorf("enqueue: empty url")
	}
	if a.Method == "" {
		a.Method = http.MethodPost
	}
	if a.Type == "" {
		a.Type = ActionType(a.Method, a.URL)
	}
	if a.Timestamp == 0 {
		a.Timestamp = q.now().UnixMilli()
	}
	a.ID = 0
	a.RetryCount = 0

	stored, err := q.seal(a)
	if err != nil {
		return Action{}, fmt.Errorf("enqueue %s: %w", a.Type, err)
	}
	id, err := q.store.Add(ctx, store.OfflineActions, stored)
	if err != nil {
		return Action{}, fmt.Errorf("enqueue %s: %w", a.Type, err)
	}
	a.ID = id

	q.logger.Info(ctx, "action queued", "id", a.ID, "type", a.Type, "method", a.Method, "url", a.URL)

	q.hooksMu.RLock()
	hooks := append([]Hook(nil), q.onEnqueue...)
	q.hooksMu.RUnlock()
	for _, h := range hooks {
		h(ctx, a)
	}
	return a, nil
}

// List returns every queued action ordered by timestamp, then id.
func (q *Queue) List(ctx context.Context) ([]Action, error) {
	rows, err := q.store.GetAllByIndex(ctx, store.OfflineActions, store.TimestampIndex)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	out := make([]Action, 0, len(rows))
	for _, r := range rows {
		var a Action
		if err := json.Unmarshal(r, &a); err != nil {
			q.logger.Warn(ctx, "skipping unreadable action", "error", err)
			continue
		}
		q.open(ctx, &a)
		out = append(out, a)
	}
	return out, nil
}

// Len reports the number of queued actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	rows, err := q.store.GetAll(ctx, store.OfflineActions)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return len(rows), nil
}

// Remove deletes one action. An action removed while a drain is running
// stays removed even if its replay fails.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	q.removeMu.Lock()
	defer q.removeMu.Unlock()

	if err := q.store.Delete(ctx, store.OfflineActions, strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("remove action %d: %w", id, err)
	}
	if q.draining {
		q.removed[id] = struct{}{}
	}
	return nil
}

func (q *Queue) Clear(ctx context.Context) error {
	q.removeMu.Lock()
	defer q.removeMu.Unlock()

	if err := q.store.Clear(ctx, store.OfflineActions); err != nil {
		return fmt.Errorf("clear actions: %w", err)
	}
	if q.draining {
		q.cleared = true
	}
	return nil
}

func (q *Queue) beginPass() {
	q.removeMu.Lock()
	q.draining = true
	q.removed = make(map[int64]struct{})
	q.cleared = false
	q.removeMu.Unlock()
}

func (q *Queue) endPass() {
	q.removeMu.Lock()
	q.draining = false
	q.removeMu.Unlock()
}

// commitPass persists the outcome of a pass. Failed actions removed during
// the pass are not written back.
func (q *Queue) commitPass(ctx context.Context, failed []Action, deletes []string) error {
	q.removeMu.Lock()
	defer q.removeMu.Unlock()
	defer func() { q.draining = false }()

	puts := make([]any, 0, len(failed))
	for _, a := range failed {
		if q.cleared {
			break
		}
		if _, gone := q.removed[a.ID]; gone {
			continue
		}
		puts = append(puts, a)
	}
	return q.store.Commit(ctx, store.OfflineActions, puts, deletes)
}

// Drain replays every queued action once, sequentially and in FIFO order.
// The outcome of the pass is committed atomically at the end; if ctx is
// canceled mid-pass the actions not yet attempted stay untouched.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	var res DrainResult

	q.beginPass()
	actions, err := q.List(ctx)
	if err != nil {
		q.endPass()
		return res, err
	}
	if len(actions) == 0 {
		q.endPass()
		return res, nil
	}

	var (
		failed   []Action
		deletes  []string
		replayed []Action
	)

	for _, a := range actions {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		err := q.replay(ctx, a)
		if err == nil {
			res.Succeeded++
			deletes = append(deletes, strconv.FormatInt(a.ID, 10))
			replayed = append(replayed, a)
			q.logger.Info(ctx, "action replayed", "id", a.ID, "type", a.Type)
			continue
		}

		a.RetryCount++
		if a.RetryCount > q.maxRetries {
			res.Dropped++
			deletes = append(deletes, strconv.FormatInt(a.ID, 10))
			q.logger.Error(ctx, "replay exhausted", "id", a.ID, "type", a.Type, "url", a.URL, "attempts", a.RetryCount, "error", err)
			continue
		}

		res.Failed++
		stored, serr := q.seal(a)
		if serr != nil {
			q.logger.Error(ctx, "seal headers", "id", a.ID, "error", serr)
			stored = withoutSealedHeaders(a)
		}
		failed = append(failed, stored)
		q.logger.Warn(ctx, "replay failed", "id", a.ID, "type", a.Type, "retry", a.RetryCount, "error", err)
	}

	res.Remaining = len(actions) - res.Succeeded - res.Dropped

	// Outcomes are persisted even when ctx was canceled mid-pass.
	if err := q.commitPass(context.WithoutCancel(ctx), failed, deletes); err != nil {
		return res, fmt.Errorf("persist drain: %w", err)
	}

	q.hooksMu.RLock()
	hooks := append([]Hook(nil), q.onReplayed...)
	q.hooksMu.RUnlock()
	for _, a := range replayed {
		for _, h := range hooks {
			h(ctx, a)
		}
	}

	q.logger.Info(ctx, "drain finished",
		"attempted", res.Attempted, "succeeded", res.Succeeded,
		"failed", res.Failed, "dropped", res.Dropped, "remaining", res.Remaining)

	return res, ctx.Err()
}

func (q *Queue) replay(ctx context.Context, a Action) error {
	target, err := netx.Resolve(q.base, a.URL)
	if err != nil {
		return err
	}

	header := make(map[string]string, len(a.Headers)+1)
	for k, v := range a.Headers {
		header[k] = v
	}
	header[ReplayHeader] = "1"

	ctx, cancel := context.WithTimeout(ctx, q.replayTimeout)
	defer cancel()

	return netx.Send(ctx, q.client, a.Method, target, header, a.Body)
}

// seal returns a copy of a whose credential headers are encrypted.
func (q *Queue) seal(a Action) (Action, error) {
	if q.sealer == nil || len(a.Headers) == 0 {
		return a, nil
	}
	h := make(map[string]string, len(a.Headers))
	for k, v := range a.Headers {
		if _, ok := sealedHeaders[http.CanonicalHeaderKey(k)]; ok {
			tok, err := q.sealer.Seal([]byte(v))
			if err != nil {
				return Action{}, fmt.Errorf("seal %s: %w", k, err)
			}
			v = tok
		}
		h[k] = v
	}
	a.Headers = h
	return a, nil
}

// open decrypts sealed header values in place. Values stored before a
// secret was configured are left as they are; values that no longer open
// (the secret changed) are removed.
func (q *Queue) open(ctx context.Context, a *Action) {
	if q.sealer == nil {
		return
	}
	for k, v := range a.Headers {
		if !cryptox.IsSealed(v) {
			continue
		}
		plain, err := q.sealer.Open(v)
		if err != nil {
			q.logger.Warn(ctx, "dropping unreadable header", "id", a.ID, "header", k, "error", err)
			delete(a.Headers, k)
			continue
		}
		a.Headers[k] = string(plain)
	}
}

func withoutSealedHeaders(a Action) Action {
	h := make(map[string]string, len(a.Headers))
	for k, v := range a.Headers {
		if _, ok := sealedHeaders[http.CanonicalHeaderKey(k)]; !ok {
			h[k] = v
		}
	}
	a.Headers = h
	return a
}
