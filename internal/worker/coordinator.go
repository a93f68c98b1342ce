package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/dmitrijs2005/offlinegate/internal/cache"
	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"github.com/dmitrijs2005/offlinegate/internal/manifest"
	"github.com/dmitrijs2005/offlinegate/internal/netx"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
	"github.com/dmitrijs2005/offlinegate/internal/store"
)

const DefaultCachePrefix = "offlinegate-cache"

// Config holds the coordinator's knobs.
type Config struct {
	Upstream             *url.URL
	Version              string
	Prefix               string
	Manifest             *manifest.Manifest
	SkipWaiting          bool
	QueueFailedMutations bool
}

// BucketName is the cache bucket owned by this version.
func (c Config) BucketName() string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return prefix + "-v" + c.Version
}

// Syncer runs an on-demand drain; the sync trigger implements it.
type Syncer interface {
	Request(ctx context.Context) (queue.DrainResult, error)
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	Version string `json:"version"`
	Bucket  string `json:"bucket"`
	State   State  `json:"state"`
}

// InstallReport lists which essential URLs made it into the bucket.
type InstallReport struct {
	Bucket string   `json:"bucket"`
	Cached []string `json:"cached"`
	Failed []string `json:"failed,omitempty"`
}

// UpdateReport is the outcome of a bulk cache add.
type UpdateReport struct {
	Added  []string          `json:"added"`
	Failed map[string]string `json:"failed,omitempty"`
}

// Coordinator routes proxied requests through the cache policy and owns the
// live cache bucket.
type Coordinator struct {
	cfg    Config
	caches *cache.Storage
	store  store.Store
	queue  *queue.Queue
	client netx.Doer
	logger logging.Logger

	mu          sync.RWMutex
	state       State
	skipWaiting bool
	bucket      *cache.Bucket
	syncer      Syncer
}

// New builds a coordinator in the Parsed state.
func New(cfg Config, caches *cache.Storage, s store.Store, q *queue.Queue, client netx.Doer, logger logging.Logger) *Coordinator {
	if cfg.Manifest == nil {
		cfg.Manifest = manifest.Default()
	}
	if cfg.Version == "" {
		cfg.Version = cfg.Manifest.Version
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		cfg:         cfg,
		caches:      caches,
		store:       s,
		queue:       q,
		client:      client,
		logger:      logger.With("module", "worker"),
		skipWaiting: cfg.SkipWaiting,
	}
}

// SetSyncer wires the sync trigger used by RequestSync messages.
func (c *Coordinator) SetSyncer(s Syncer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncer = s
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{Version: c.cfg.Version, Bucket: c.cfg.BucketName(), State: c.state}
}

// Start installs the current version and, unless waiting was requested,
// activates it right away.
func (c *Coordinator) Start(ctx context.Context) error {
	if _, err := c.Install(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	skip := c.skipWaiting
	c.mu.RUnlock()
	if !skip {
		c.logger.Info(ctx, "installed, waiting for skip-waiting", "bucket", c.cfg.BucketName())
		return nil
	}
	return c.Activate(ctx)
}

// Install creates this version's bucket and precaches the essential URLs.
// Individual fetch failures are reported, not returned, so that a gateway
// started without connectivity still installs.
func (c *Coordinator) Install(ctx context.Context) (InstallReport, error) {
	name := c.cfg.BucketName()
	report := InstallReport{Bucket: name}

	c.mu.Lock()
	if c.state != Parsed {
		st := c.state
		c.mu.Unlock()
		return report, fmt.Errorf("install: coordinator is %s", st)
	}
	c.state = Installing
	c.mu.Unlock()

	c.logger.Info(ctx, "installing", "bucket", name, "essential", len(c.cfg.Manifest.Essential))

	bucket, err := c.caches.Create(ctx, name)
	if err != nil {
		c.setState(Redundant)
		return report, fmt.Errorf("install: %w", err)
	}

	for _, u := range c.cfg.Manifest.Essential {
		if err := c.precache(ctx, bucket, u); err != nil {
			c.logger.Warn(ctx, "precache failed", "url", u, "error", err)
			report.Failed = append(report.Failed, u)
			continue
		}
		report.Cached = append(report.Cached, u)
	}

	c.mu.Lock()
	c.bucket = bucket
	c.state = Installed
	c.mu.Unlock()

	c.logger.Info(ctx, "installed", "bucket", name, "cached", len(report.Cached), "failed", len(report.Failed))
	return report, nil
}

// Activate purges every other bucket and starts applying the cache policy
// to all requests.
func (c *Coordinator) Activate(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Activated:
		c.mu.Unlock()
		return nil
	case Installed:
		c.state = Activating
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("activate: coordinator is %s", st)
	}
	c.mu.Unlock()

	current := c.cfg.BucketName()
	names, err := c.caches.Names(ctx)
	if err != nil {
		c.setState(Installed)
		return fmt.Errorf("activate: %w", err)
	}
	purged := 0
	for _, n := range names {
		if n == current {
			continue
		}
		if err := c.caches.Drop(ctx, n); err != nil {
			c.setState(Installed)
			return fmt.Errorf("activate: %w", err)
		}
		purged++
		c.logger.Info(ctx, "purged stale bucket", "bucket", n)
	}

	c.setState(Activated)
	c.logger.Info(ctx, "activated", "bucket", current, "purged", purged)
	return nil
}

// SkipWaiting activates an installed version immediately. Called earlier it
// only records the request so Start activates without waiting.
func (c *Coordinator) SkipWaiting(ctx context.Context) error {
	c.mu.Lock()
	c.skipWaiting = true
	st := c.state
	c.mu.Unlock()

	if st != Installed {
		return nil
	}
	return c.Activate(ctx)
}

// Retire marks the coordinator redundant; afterwards requests are passed
// through untouched.
func (c *Coordinator) Retire() {
	c.setState(Redundant)
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// liveBucket returns the bucket once the policy applies.
func (c *Coordinator) liveBucket() (*cache.Bucket, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != Activated {
		return nil, false
	}
	return c.bucket, true
}

// installedBucket returns the bucket whenever one exists, active or not.
func (c *Coordinator) installedBucket() (*cache.Bucket, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bucket == nil || c.state == Redundant {
		return nil, common.ErrNotActive
	}
	return c.bucket, nil
}

func (c *Coordinator) precache(ctx context.Context, b *cache.Bucket, u string) error {
	resp, err := c.fetch(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return fmt.Errorf("status %d", resp.Status)
	}
	return b.Put(ctx, cache.Key(http.MethodGet, u), resp)
}

// UpdateCache adds urls to the bucket. Failures are collected in the
// report; the error is only set when there is no bucket to write to.
func (c *Coordinator) UpdateCache(ctx context.Context, urls []string) (UpdateReport, error) {
	report := UpdateReport{Added: []string{}}

	b, err := c.installedBucket()
	if err != nil {
		return report, err
	}

	for _, u := range urls {
		if err := c.precache(ctx, b, u); err != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[u] = err.Error()
			c.logger.Warn(ctx, "cache update failed", "url", u, "error", err)
			continue
		}
		report.Added = append(report.Added, u)
	}
	return report, nil
}

// Refresh re-fetches urls into the live bucket.
func (c *Coordinator) Refresh(ctx context.Context, urls []string) (UpdateReport, error) {
	if _, ok := c.liveBucket(); !ok {
		return UpdateReport{}, common.ErrNotActive
	}
	return c.UpdateCache(ctx, urls)
}

// Invalidate evicts cached reads of the collection a replayed mutation
// changed, so the next GET goes to the network.
func (c *Coordinator) Invalidate(ctx context.Context, a queue.Action) {
	res := queue.Resource(a.URL)
	if res == "" {
		return
	}
	b, err := c.installedBucket()
	if err != nil {
		return
	}
	n, err := b.DeleteTree(ctx, cache.Key(http.MethodGet, res))
	if err != nil {
		c.logger.Warn(ctx, "cache invalidation failed", "resource", res, "error", err)
		return
	}
	c.logger.Debug(ctx, "cache invalidated", "resource", res, "entries", n)
}
