package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/dmitrijs2005/offlinegate/internal/queue"
)

// Message is a control message from the application host. The set of
// implementations is closed.
type Message interface {
	messageType() string
}

// SkipWaiting asks an installed version to activate now.
type SkipWaiting struct{}

// CacheOfflineAction hands a mutation to the offline queue.
type CacheOfflineAction struct {
	Action queue.Action
}

// RequestSync asks for a queue drain.
type RequestSync struct {
	Tag string `json:"tag,omitempty"`
}

// UpdateCache bulk-adds URLs to the live bucket.
type UpdateCache struct {
	URLs []string `json:"urls"`
}

const (
	TypeSkipWaiting        = "SKIP_WAITING"
	TypeCacheOfflineAction = "CACHE_OFFLINE_ACTION"
	TypeRequestSync        = "REQUEST_SYNC"
	TypeUpdateCache        = "UPDATE_CACHE"
)

// DefaultSyncTag names the drain requested by a RequestSync without a tag.
const DefaultSyncTag = "sync-offline-actions"

func (SkipWaiting) messageType() string        { return TypeSkipWaiting }
func (CacheOfflineAction) messageType() string { return TypeCacheOfflineAction }
func (RequestSync) messageType() string        { return TypeRequestSync }
func (UpdateCache) messageType() string        { return TypeUpdateCache }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodeMessage parses {"type": ..., "payload": ...}.
func DecodeMessage(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	var payload = func(v any) error {
		if len(env.Payload) == 0 || string(env.Payload) == "null" {
			return nil
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
		return nil
	}

	switch env.Type {
	case TypeSkipWaiting:
		return SkipWaiting{}, nil
	case TypeCacheOfflineAction:
		var a queue.Action
		if err := payload(&a); err != nil {
			return nil, err
		}
		if a.URL == "" {
			return nil, fmt.Errorf("%s: url is required", env.Type)
		}
		return CacheOfflineAction{Action: a}, nil
	case TypeRequestSync:
		m := RequestSync{}
		if err := payload(&m); err != nil {
			return nil, err
		}
		if m.Tag == "" {
			m.Tag = DefaultSyncTag
		}
		return m, nil
	case TypeUpdateCache:
		var m UpdateCache
		if err := payload(&m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownMessage, env.Type)
	}
}

// EncodeMessage is the inverse of DecodeMessage.
func EncodeMessage(m Message) ([]byte, error) {
	var payload any
	switch v := m.(type) {
	case SkipWaiting:
	case CacheOfflineAction:
		payload = v.Action
	case RequestSync:
		payload = v
	case UpdateCache:
		payload = v
	default:
		return nil, fmt.Errorf("%w: %T", common.ErrUnknownMessage, m)
	}

	env := envelope{Type: m.messageType()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = b
	}
	return json.Marshal(env)
}

// Handle executes a control message and returns its result: nil for
// SkipWaiting, the queued queue.Action, a queue.DrainResult or an
// UpdateReport.
func (c *Coordinator) Handle(ctx context.Context, m Message) (any, error) {
	switch v := m.(type) {
	case SkipWaiting:
		return nil, c.SkipWaiting(ctx)

	case CacheOfflineAction:
		if c.queue == nil {
			return nil, fmt.Errorf("%s: no queue configured", TypeCacheOfflineAction)
		}
		return c.queue.Enqueue(ctx, v.Action)

	case RequestSync:
		c.mu.RLock()
		s := c.syncer
		c.mu.RUnlock()
		c.logger.Info(ctx, "sync requested", "tag", v.Tag)
		if s != nil {
			return s.Request(ctx)
		}
		if c.queue == nil {
			return queue.DrainResult{}, nil
		}
		return c.queue.Drain(ctx)

	case UpdateCache:
		return c.UpdateCache(ctx, v.URLs)

	default:
		return nil, fmt.Errorf("%w: %T", common.ErrUnknownMessage, m)
	}
}
