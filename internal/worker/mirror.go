package worker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dmitrijs2005/offlinegate/internal/store"
	"github.com/dmitrijs2005/offlinegate/internal/timex"
	"github.com/tidwall/gjson"
)

var mirrored = map[string]store.Collection{
	"events":        store.Events,
	"services":      store.Services,
	"venues":        store.Venues,
	"messages":      store.Messages,
	"notifications": store.Notifications,
}

// mirror copies the entities of a successful API read into the durable
// store so they stay readable through the control API while offline.
// Profile and settings reads under /api/users are kept whole as user data
// keyed by path. Malformed bodies are skipped.
func (c *Coordinator) mirror(ctx context.Context, path string, body []byte) {
	if c.store == nil || !gjson.ValidBytes(body) {
		return
	}
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return
	}
	seg, _, _ := strings.Cut(rest, "/")

	if seg == "users" {
		err := c.store.Put(ctx, store.UserDataColl, store.UserData{
			Key:       path,
			Data:      json.RawMessage(body),
			Timestamp: timex.NowMillis(),
		})
		if err != nil {
			c.logger.Warn(ctx, "mirror user data failed", "path", path, "error", err)
		}
		return
	}

	coll, ok := mirrored[seg]
	if !ok {
		return
	}

	var puts []any
	for _, e := range entities(gjson.ParseBytes(body)) {
		if id := e.Get("id"); !id.Exists() || id.String() == "" {
			continue
		}
		puts = append(puts, json.RawMessage(e.Raw))
	}
	if len(puts) == 0 {
		return
	}
	if err := c.store.Commit(ctx, coll, puts, nil); err != nil {
		c.logger.Warn(ctx, "mirror failed", "collection", coll, "error", err)
		return
	}
	c.logger.Debug(ctx, "mirrored", "collection", coll, "records", len(puts))
}

// entities unwraps the shapes the backend answers with: a bare array, an
// envelope with a data or items array, or a single object.
func entities(doc gjson.Result) []gjson.Result {
	switch {
	case doc.IsArray():
		return doc.Array()
	case doc.IsObject():
		for _, k := range []string{"data", "items"} {
			if v := doc.Get(k); v.IsArray() {
				return v.Array()
			} else if v.IsObject() {
				return []gjson.Result{v}
			}
		}
		return []gjson.Result{doc}
	default:
		return nil
	}
}
