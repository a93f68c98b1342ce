// Package queue persists mutations that could not reach the backend and
// replays them in enqueue order once connectivity returns.
//
// Actions live in the offline-actions collection of a store.Store. A drain
// is one sequential pass over the queue: successes are removed, failures get
// their retry counter bumped, and actions past MaxRetries are dropped with an
// error log. All changes of a pass are committed in one transaction.
package queue
