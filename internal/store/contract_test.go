package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dmitrijs2005/offlinegate/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type action struct {
	ID        int64  `json:"id,omitempty"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// runContract exercises the behaviour every Store implementation shares.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("upsert keeps one record per key", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Events, event{ID: "e1", Title: "first"}))
		require.NoError(t, s.Put(ctx, Events, event{ID: "e1", Title: "second"}))

		all, err := s.GetAll(ctx, Events)
		require.NoError(t, err)
		require.Len(t, all, 1)

		var got event
		found, err := GetInto(ctx, s, Events, "e1", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "second", got.Title)
	})

	t.Run("get missing returns nil without error", func(t *testing.T) {
		s := newStore(t)
		doc, err := s.Get(ctx, Venues, "absent")
		require.NoError(t, err)
		assert.Nil(t, doc)

		var v event
		found, err := GetInto(ctx, s, Venues, "absent", &v)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("user data is keyed by key field", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, UserDataColl, UserData{Key: "profile", Data: json.RawMessage(`{"name":"a"}`), Timestamp: 1}))
		require.NoError(t, s.Put(ctx, UserDataColl, UserData{Key: "profile", Data: json.RawMessage(`{"name":"b"}`), Timestamp: 2}))

		var got UserData
		found, err := GetInto(ctx, s, UserDataColl, "profile", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.JSONEq(t, `{"name":"b"}`, string(got.Data))
		assert.EqualValues(t, 2, got.Timestamp)
	})

	t.Run("missing primary key is rejected", func(t *testing.T) {
		s := newStore(t)
		err := s.Put(ctx, Events, map[string]any{"title": "no id"})
		assert.ErrorIs(t, err, common.ErrMissingKey)
	})

	t.Run("unknown collection is rejected", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetAll(ctx, Collection("payments"))
		assert.ErrorIs(t, err, common.ErrUnknownCollection)
	})

	t.Run("add assigns increasing ids and patches the document", func(t *testing.T) {
		s := newStore(t)
		id1, err := s.Add(ctx, OfflineActions, action{Type: "CREATE_EVENT", Timestamp: 10})
		require.NoError(t, err)
		id2, err := s.Add(ctx, OfflineActions, action{Type: "CREATE_EVENT", Timestamp: 10})
		require.NoError(t, err)
		assert.Greater(t, id2, id1)

		var got action
		found, err := GetInto(ctx, s, OfflineActions, "1", &got)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, id1, got.ID)
	})

	t.Run("add on keyed collection fails", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Add(ctx, Events, event{ID: "x"})
		assert.ErrorIs(t, err, common.ErrNotAutoIncrementing)
	})

	t.Run("index orders by timestamp then id", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Add(ctx, OfflineActions, action{Type: "C", Timestamp: 30})
		require.NoError(t, err)
		_, err = s.Add(ctx, OfflineActions, action{Type: "A", Timestamp: 10})
		require.NoError(t, err)
		_, err = s.Add(ctx, OfflineActions, action{Type: "B", Timestamp: 10})
		require.NoError(t, err)

		docs, err := s.GetAllByIndex(ctx, OfflineActions, TimestampIndex)
		require.NoError(t, err)
		require.Len(t, docs, 3)

		var types []string
		for _, d := range docs {
			var a action
			require.NoError(t, json.Unmarshal(d, &a))
			types = append(types, a.Type)
		}
		assert.Equal(t, []string{"A", "B", "C"}, types)

		_, err = s.GetAllByIndex(ctx, Events, TimestampIndex)
		assert.ErrorIs(t, err, common.ErrUnknownIndex)
	})

	t.Run("delete and clear are idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Services, event{ID: "s1"}))
		require.NoError(t, s.Put(ctx, Services, event{ID: "s2"}))

		require.NoError(t, s.Delete(ctx, Services, "s1"))
		require.NoError(t, s.Delete(ctx, Services, "s1"))
		doc, err := s.Get(ctx, Services, "s1")
		require.NoError(t, err)
		assert.Nil(t, doc)

		require.NoError(t, s.Clear(ctx, Services))
		require.NoError(t, s.Clear(ctx, Services))
		all, err := s.GetAll(ctx, Services)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("commit applies puts and deletes together", func(t *testing.T) {
		s := newStore(t)
		id1, err := s.Add(ctx, OfflineActions, action{Type: "A", Timestamp: 1})
		require.NoError(t, err)
		id2, err := s.Add(ctx, OfflineActions, action{Type: "B", Timestamp: 2})
		require.NoError(t, err)

		err = s.Commit(ctx, OfflineActions,
			[]any{action{ID: id2, Type: "B2", Timestamp: 2}},
			[]string{"1"})
		require.NoError(t, err)
		_ = id1

		docs, err := s.GetAllByIndex(ctx, OfflineActions, TimestampIndex)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		var a action
		require.NoError(t, json.Unmarshal(docs[0], &a))
		assert.Equal(t, "B2", a.Type)
		assert.Equal(t, id2, a.ID)
	})

	t.Run("raw json records are stored verbatim", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Put(ctx, Messages, json.RawMessage(`{"id":7,"text":"hi"}`)))
		doc, err := s.Get(ctx, Messages, "7")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":7,"text":"hi"}`, string(doc))

		err = s.Put(ctx, Messages, json.RawMessage(`{broken`))
		assert.ErrorIs(t, err, common.ErrInvalidRecord)
	})
}

func TestMemory_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store { return NewMemory() })
}
