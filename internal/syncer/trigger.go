// Package syncer decides when the offline queue is drained: on reconnect,
// on explicit request, after a failed pass (with exponential backoff) and
// periodically, together with a refresh of the critical endpoints.
package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"github.com/dmitrijs2005/offlinegate/internal/worker"
	"golang.org/x/sync/singleflight"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// drainKey names the only queue there is.
const drainKey = "offline-actions"

// Drainer replays the offline queue.
type Drainer interface {
	Drain(ctx context.Context) (queue.DrainResult, error)
}

// Refresher re-fetches URLs into the live cache.
type Refresher interface {
	Refresh(ctx context.Context, urls []string) (worker.UpdateReport, error)
}

// Listener is told about connectivity changes.
type Listener func(ctx context.Context, m Mode)

type Config struct {
	CheckInterval    time.Duration
	ProbeTimeout     time.Duration
	PeriodicInterval time.Duration
	Critical         []string
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// DrainTimeout bounds one shared pass; callers leaving early do not
	// cancel it.
	DrainTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 3 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 2 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Minute
	}
}

// Trigger owns the connectivity state and schedules drains.
type Trigger struct {
	cfg       Config
	drainer   Drainer
	refresher Refresher
	prober    Prober
	logger    logging.Logger

	group singleflight.Group
	kick  chan struct{}

	mu        sync.Mutex
	mode      Mode
	listeners []Listener
	bo        *backoff.ExponentialBackOff
	retry     *time.Timer
	// life is the Run context; shared passes stop when it ends.
	life context.Context

	// passMu is read-held by every running pass; Run takes it on exit to
	// wait for them.
	passMu sync.RWMutex
}

// New returns a Trigger in offline mode; the first successful probe flips it
// online and starts a drain. refresher may be nil.
func New(cfg Config, d Drainer, r Refresher, p Prober, logger logging.Logger) *Trigger {
	cfg.setDefaults()
	if logger == nil {
		logger = logging.Nop()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialBackoff
	bo.MaxInterval = cfg.MaxBackoff

	return &Trigger{
		cfg:       cfg,
		drainer:   d,
		refresher: r,
		prober:    p,
		logger:    logger.With("module", "syncer"),
		kick:      make(chan struct{}, 1),
		mode:      ModeOffline,
		bo:        bo,
		life:      context.Background(),
	}
}

func (t *Trigger) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

func (t *Trigger) Online() bool { return t.Mode() == ModeOnline }

// OnStatusChange registers l for connectivity flips.
func (t *Trigger) OnStatusChange(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Kick asks the run loop for a drain. It never blocks; kicks arriving while
// one is pending are merged.
func (t *Trigger) Kick() {
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

// Check probes the backend once and updates the mode.
func (t *Trigger) Check(ctx context.Context) Mode {
	pctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	err := t.prober.Ping(pctx)
	cancel()

	if err != nil {
		t.logger.Debug(ctx, "probe failed", "error", err)
		t.setMode(ctx, ModeOffline)
		return ModeOffline
	}
	t.setMode(ctx, ModeOnline)
	return ModeOnline
}

func (t *Trigger) setMode(ctx context.Context, m Mode) {
	t.mu.Lock()
	if t.mode == m {
		t.mu.Unlock()
		return
	}
	t.mode = m
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	t.logger.Info(ctx, "switched mode", "mode", m)
	for _, l := range listeners {
		l(ctx, m)
	}
	if m == ModeOnline {
		t.Kick()
	}
}

// Request drains the queue now. Concurrent callers share one pass and its
// result. The pass is detached from ctx and bounded by DrainTimeout and the
// Run context, so a caller giving up returns ctx.Err() while the others
// still get the outcome.
func (t *Trigger) Request(ctx context.Context) (queue.DrainResult, error) {
	ch := t.group.DoChan(drainKey, func() (any, error) {
		t.passMu.RLock()
		defer t.passMu.RUnlock()

		t.mu.Lock()
		life := t.life
		t.mu.Unlock()
		if err := life.Err(); err != nil {
			return queue.DrainResult{}, err
		}

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.DrainTimeout)
		defer cancel()
		stop := context.AfterFunc(life, cancel)
		defer stop()

		res, err := t.drainer.Drain(dctx)
		switch {
		case err != nil:
			t.logger.Warn(dctx, "drain failed", "error", err)
			t.scheduleRetry(dctx)
		case res.Failed > 0:
			t.scheduleRetry(dctx)
		default:
			t.resetRetry()
		}
		return res, err
	})

	select {
	case r := <-ch:
		res, _ := r.Val.(queue.DrainResult)
		return res, r.Err
	case <-ctx.Done():
		return queue.DrainResult{}, ctx.Err()
	}
}

func (t *Trigger) scheduleRetry(ctx context.Context) {
	if !t.Online() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retry != nil {
		t.retry.Stop()
	}
	d := t.bo.NextBackOff()
	t.retry = time.AfterFunc(d, t.Kick)
	t.logger.Info(ctx, "drain retry scheduled", "in", d.String())
}

func (t *Trigger) resetRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bo.Reset()
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
}

// Periodic refreshes the critical endpoints and drains the queue when the
// backend is reachable.
func (t *Trigger) Periodic(ctx context.Context) {
	if !t.Online() {
		return
	}
	if t.refresher != nil && len(t.cfg.Critical) > 0 {
		report, err := t.refresher.Refresh(ctx, t.cfg.Critical)
		if err != nil {
			t.logger.Warn(ctx, "periodic refresh skipped", "error", err)
		} else {
			t.logger.Info(ctx, "periodic refresh", "refreshed", len(report.Added), "failed", len(report.Failed))
		}
	}
	_, _ = t.Request(ctx)
}

// Run probes connectivity every CheckInterval and serves kicks, retries and
// periodic syncs until ctx is done.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.CheckInterval)
	defer ticker.Stop()

	var periodic <-chan time.Time
	if t.cfg.PeriodicInterval > 0 {
		pt := time.NewTicker(t.cfg.PeriodicInterval)
		defer pt.Stop()
		periodic = pt.C
	}

	t.mu.Lock()
	t.life = ctx
	t.mu.Unlock()
	defer func() {
		t.passMu.Lock()
		t.passMu.Unlock()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer t.resetRetry()

	t.Check(ctx)

	for {
		select {
		case <-ticker.C:
			t.Check(ctx)

		case <-t.kick:
			if !t.Online() {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = t.Request(ctx)
			}()

		case <-periodic:
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.Periodic(ctx)
			}()

		case <-ctx.Done():
			return
		}
	}
}
