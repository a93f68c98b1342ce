package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/tidwall/sjson"
)

// Memory is a goroutine-safe in-memory Store. Contents die with the process.
type Memory struct {
	mu   sync.RWMutex
	data map[Collection]map[string]json.RawMessage
	seq  map[Collection]int64
}

func NewMemory() *Memory {
	m := &Memory{
		data: make(map[Collection]map[string]json.RawMessage),
		seq:  make(map[Collection]int64),
	}
	for _, c := range Collections() {
		m.data[c] = make(map[string]json.RawMessage)
	}
	return m
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) Put(_ context.Context, c Collection, record any) error {
	if _, err := c.schema(); err != nil {
		return err
	}
	doc, err := encode(record)
	if err != nil {
		return err
	}
	key, ok, err := keyOf(c, doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		_, err := m.insertLocked(c, doc)
		return err
	}
	m.putLocked(c, key, doc)
	return nil
}

func (m *Memory) Add(_ context.Context, c Collection, record any) (int64, error) {
	sc, err := c.schema()
	if err != nil {
		return 0, err
	}
	if !sc.autoIncrement {
		return 0, fmt.Errorf("%w: %s", common.ErrNotAutoIncrementing, c)
	}
	doc, err := encode(record)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(c, doc)
}

func (m *Memory) Get(_ context.Context, c Collection, key string) (json.RawMessage, error) {
	if _, err := c.schema(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[c][key]
	if !ok {
		return nil, nil
	}
	return clone(doc), nil
}

func (m *Memory) GetAll(_ context.Context, c Collection) ([]json.RawMessage, error) {
	if _, err := c.schema(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]json.RawMessage, 0, len(m.data[c]))
	for _, doc := range m.data[c] {
		result = append(result, clone(doc))
	}
	return result, nil
}

func (m *Memory) GetAllByIndex(ctx context.Context, c Collection, index string) ([]json.RawMessage, error) {
	sc, err := c.schema()
	if err != nil {
		return nil, err
	}
	if !c.HasIndex(index) {
		return nil, fmt.Errorf("%w: %s on %s", common.ErrUnknownIndex, index, c)
	}
	all, err := m.GetAll(ctx, c)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := indexValue(all[i], index), indexValue(all[j], index)
		if a != b {
			return a < b
		}
		return indexValue(all[i], sc.keyField) < indexValue(all[j], sc.keyField)
	})
	return all, nil
}

func (m *Memory) Delete(_ context.Context, c Collection, key string) error {
	if _, err := c.schema(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[c], key)
	return nil
}

func (m *Memory) Clear(_ context.Context, c Collection) error {
	if _, err := c.schema(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[c] = make(map[string]json.RawMessage)
	return nil
}

func (m *Memory) Commit(_ context.Context, c Collection, puts []any, deletes []string) error {
	if _, err := c.schema(); err != nil {
		return err
	}
	type keyed struct {
		key string
		ok  bool
		doc []byte
	}
	staged := make([]keyed, 0, len(puts))
	for _, p := range puts {
		doc, err := encode(p)
		if err != nil {
			return err
		}
		key, ok, err := keyOf(c, doc)
		if err != nil {
			return err
		}
		staged = append(staged, keyed{key: key, ok: ok, doc: doc})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range staged {
		if !k.ok {
			if _, err := m.insertLocked(c, k.doc); err != nil {
				return err
			}
			continue
		}
		m.putLocked(c, k.key, k.doc)
	}
	for _, key := range deletes {
		delete(m.data[c], key)
	}
	return nil
}

func (m *Memory) putLocked(c Collection, key string, doc []byte) {
	m.data[c][key] = clone(doc)
	if c.AutoIncrement() {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil && id > m.seq[c] {
			m.seq[c] = id
		}
	}
}

func (m *Memory) insertLocked(c Collection, doc []byte) (int64, error) {
	m.seq[c]++
	id := m.seq[c]
	patched, err := sjson.SetBytes(doc, c.KeyField(), id)
	if err != nil {
		return 0, fmt.Errorf("patch key: %w", err)
	}
	m.data[c][strconv.FormatInt(id, 10)] = patched
	return id, nil
}

func clone(doc []byte) json.RawMessage {
	return append(json.RawMessage(nil), doc...)
}
