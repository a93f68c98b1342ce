package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/logging"
)

// Fallback serves from primary until primary fails with a storage error,
// then switches to an in-memory store for the rest of the process lifetime.
// Validation errors (unknown collection, missing key) are returned as is.
type Fallback struct {
	primary  Store
	memory   *Memory
	logger   logging.Logger
	degraded atomic.Bool
}

func NewFallback(primary Store, logger logging.Logger) *Fallback {
	return &Fallback{primary: primary, memory: NewMemory(), logger: logger.With("module", "store")}
}

// Degraded reports whether the store has switched to memory.
func (f *Fallback) Degraded() bool { return f.degraded.Load() }

func (f *Fallback) active() Store {
	if f.degraded.Load() {
		return f.memory
	}
	return f.primary
}

// degrade decides whether err should trigger the switch to memory.
func (f *Fallback) degrade(ctx context.Context, op string, err error) bool {
	if err == nil || isCallerError(err) || ctx.Err() != nil {
		return false
	}
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Error(ctx, "offline persistence degraded, using in-memory store", "op", op, "error", err)
	}
	return true
}

func isCallerError(err error) bool {
	return errors.Is(err, common.ErrUnknownCollection) ||
		errors.Is(err, common.ErrUnknownIndex) ||
		errors.Is(err, common.ErrMissingKey) ||
		errors.Is(err, common.ErrNotAutoIncrementing) ||
		errors.Is(err, common.ErrInvalidRecord)
}

func (f *Fallback) Init(ctx context.Context) error {
	if err := f.active().Init(ctx); err != nil && !f.degrade(ctx, "init", err) {
		return err
	}
	return nil
}

func (f *Fallback) Put(ctx context.Context, c Collection, record any) error {
	err := f.active().Put(ctx, c, record)
	if f.degrade(ctx, "put", err) {
		return f.memory.Put(ctx, c, record)
	}
	return err
}

func (f *Fallback) Add(ctx context.Context, c Collection, record any) (int64, error) {
	id, err := f.active().Add(ctx, c, record)
	if f.degrade(ctx, "add", err) {
		return f.memory.Add(ctx, c, record)
	}
	return id, err
}

func (f *Fallback) Get(ctx context.Context, c Collection, key string) (json.RawMessage, error) {
	doc, err := f.active().Get(ctx, c, key)
	if f.degrade(ctx, "get", err) {
		return f.memory.Get(ctx, c, key)
	}
	return doc, err
}

func (f *Fallback) GetAll(ctx context.Context, c Collection) ([]json.RawMessage, error) {
	docs, err := f.active().GetAll(ctx, c)
	if f.degrade(ctx, "get_all", err) {
		return f.memory.GetAll(ctx, c)
	}
	return docs, err
}

func (f *Fallback) GetAllByIndex(ctx context.Context, c Collection, index string) ([]json.RawMessage, error) {
	docs, err := f.active().GetAllByIndex(ctx, c, index)
	if f.degrade(ctx, "get_all_by_index", err) {
		return f.memory.GetAllByIndex(ctx, c, index)
	}
	return docs, err
}

func (f *Fallback) Delete(ctx context.Context, c Collection, key string) error {
	err := f.active().Delete(ctx, c, key)
	if f.degrade(ctx, "delete", err) {
		return f.memory.Delete(ctx, c, key)
	}
	return err
}

func (f *Fallback) Clear(ctx context.Context, c Collection) error {
	err := f.active().Clear(ctx, c)
	if f.degrade(ctx, "clear", err) {
		return f.memory.Clear(ctx, c)
	}
	return err
}

func (f *Fallback) Commit(ctx context.Context, c Collection, puts []any, deletes []string) error {
	err := f.active().Commit(ctx, c, puts, deletes)
	if f.degrade(ctx, "commit", err) {
		return f.memory.Commit(ctx, c, puts, deletes)
	}
	return err
}

func (f *Fallback) Close() error {
	return f.primary.Close()
}
