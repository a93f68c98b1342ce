package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/tidwall/gjson"
)

// Store describes CRUD over the named collections.
type Store interface {
	// Init opens (and if needed creates or upgrades) the storage. It is
	// idempotent; every other method calls it implicitly.
	Init(ctx context.Context) error

	// Put upserts record under the key found in its primary-key field.
	Put(ctx context.Context, c Collection, record any) error

	// Add inserts record into an auto-increment collection and returns the
	// assigned key. The key is also written into the stored document.
	Add(ctx context.Context, c Collection, record any) (int64, error)

	// Get returns the stored document, or (nil, nil) when the key is absent.
	Get(ctx context.Context, c Collection, key string) (json.RawMessage, error)

	// GetAll returns every document in the collection in no particular order.
	GetAll(ctx context.Context, c Collection) ([]json.RawMessage, error)

	// GetAllByIndex returns every document ordered ascending by index, ties
	// broken by primary key.
	GetAllByIndex(ctx context.Context, c Collection, index string) ([]json.RawMessage, error)

	// Delete removes one record; deleting a missing key is not an error.
	Delete(ctx context.Context, c Collection, key string) error

	// Clear removes every record of the collection.
	Clear(ctx context.Context, c Collection) error

	// Commit applies puts and deletes to one collection atomically.
	Commit(ctx context.Context, c Collection, puts []any, deletes []string) error

	Close() error
}

// UserData is a denormalized payload cached for offline reads (profile,
// settings). One entry per key; the last write wins.
type UserData struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// GetInto decodes the record stored under key into v. It reports false when
// the key is absent.
func GetInto(ctx context.Context, s Store, c Collection, key string, v any) (bool, error) {
	raw, err := s.Get(ctx, c, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s[%s]: %w", c, key, err)
	}
	return true, nil
}

// encode marshals record unless it already is a JSON document.
func encode(record any) ([]byte, error) {
	switch v := record.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: not valid JSON", common.ErrInvalidRecord)
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("%w: not valid JSON", common.ErrInvalidRecord)
		}
		return v, nil
	default:
		b, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidRecord, err)
		}
		return b, nil
	}
}

// keyOf extracts the primary key from a document. For auto-increment
// collections a zero or missing id means "assign one".
func keyOf(c Collection, doc []byte) (string, bool, error) {
	sc, err := c.schema()
	if err != nil {
		return "", false, err
	}
	res := gjson.GetBytes(doc, sc.keyField)
	if sc.autoIncrement {
		if !res.Exists() || res.Int() <= 0 {
			return "", false, nil
		}
		return strconv.FormatInt(res.Int(), 10), true, nil
	}
	if !res.Exists() || res.String() == "" {
		return "", false, fmt.Errorf("%w: %s needs %q", common.ErrMissingKey, c, sc.keyField)
	}
	return res.String(), true, nil
}

// indexValue reads the value of a secondary index column from a document.
func indexValue(doc []byte, index string) int64 {
	return gjson.GetBytes(doc, index).Int()
}
