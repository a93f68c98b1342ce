// Package cache keeps named, versioned buckets of HTTP response snapshots in
// a single bbolt file.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// Response is a stored snapshot of a successful GET.
type Response struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
	URL      string      `json:"url"`
}

// Storage provides bbolt-backed cache buckets.
type Storage struct {
	db *bbolt.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Names lists the existing buckets in lexical order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Create makes sure bucket name exists.
func (s *Storage) Create(ctx context.Context, name string) (*Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return s.Bucket(name), nil
}

// Drop deletes bucket name with all its entries. Dropping a missing bucket
// is not an error.
func (s *Storage) Drop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("drop bucket %s: %w", name, err)
	}
	return nil
}

// Bucket returns a handle on name. The bucket itself is created lazily by
// the first Put.
func (s *Storage) Bucket(name string) *Bucket {
	return &Bucket{db: s.db, name: []byte(name)}
}

// Bucket is a handle on one named cache.
type Bucket struct {
	db   *bbolt.DB
	name []byte
}

func (b *Bucket) Name() string { return string(b.name) }

// Put stores r under key, replacing any previous entry.
func (b *Bucket) Put(ctx context.Context, key string, r Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.StoredAt.IsZero() {
		r.StoredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(b.name)
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), payload)
	})
	if err != nil {
		return fmt.Errorf("put %s in %s: %w", key, b.name, err)
	}
	return nil
}

// Match looks key up and reports whether it was found.
func (b *Bucket) Match(ctx context.Context, key string) (Response, bool, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, false, err
	}
	var (
		r     Response
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}
		payload := bk.Get([]byte(key))
		if payload == nil {
			return nil
		}
		found = true
		return json.Unmarshal(payload, &r)
	})
	if err != nil {
		return Response{}, false, fmt.Errorf("match %s in %s: %w", key, b.name, err)
	}
	return r, found, nil
}

// Delete removes key and reports whether it existed.
func (b *Bucket) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var existed bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}
		existed = bk.Get([]byte(key)) != nil
		return bk.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("delete %s in %s: %w", key, b.name, err)
	}
	return existed, nil
}

// DeleteTree removes the entry stored under key together with every entry
// below it on a path or query boundary ("GET /a" covers "GET /a/1" and
// "GET /a?x=1" but not "GET /ab"). It returns how many were removed.
func (b *Bucket) DeleteTree(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}
		var doomed [][]byte
		c := bk.Cursor()
		p := []byte(key)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			if len(k) > len(p) && k[len(p)] != '/' && k[len(p)] != '?' {
				continue
			}
			doomed = append(doomed, append([]byte(nil), k...))
		}
		for _, k := range doomed {
			if err := bk.Delete(k); err != nil {
				return err
			}
		}
		n = len(doomed)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete tree %s in %s: %w", key, b.name, err)
	}
	return n, nil
}

// Keys lists the stored keys in order.
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.name)
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list keys of %s: %w", b.name, err)
	}
	return keys, nil
}

// Key builds the lookup key for a request: the upper-cased method, a space,
// and the path with its query parameters sorted. Scheme and host are
// ignored.
func Key(method, rawURL string) string {
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return method + " " + rawURL
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if q := u.Query(); len(q) > 0 {
		p += "?" + q.Encode()
	}
	return method + " " + p
}
