package store

import (
	"fmt"

	"github.com/dmitrijs2005/offlinegate/internal/common"
)

// Collection names a partition of the store.
type Collection string

const (
	Events         Collection = "events"
	Services       Collection = "services"
	Venues         Collection = "venues"
	Messages       Collection = "messages"
	Notifications  Collection = "notifications"
	UserDataColl   Collection = "user-data"
	OfflineActions Collection = "offline-actions"
)

// TimestampIndex orders offline actions by enqueue time.
const TimestampIndex = "timestamp"

type schema struct {
	table         string
	keyField      string
	autoIncrement bool
	indexes       []string
}

var schemas = map[Collection]schema{
	Events:         {table: "events", keyField: "id"},
	Services:       {table: "services", keyField: "id"},
	Venues:         {table: "venues", keyField: "id"},
	Messages:       {table: "messages", keyField: "id"},
	Notifications:  {table: "notifications", keyField: "id"},
	UserDataColl:   {table: "user_data", keyField: "key"},
	OfflineActions: {table: "offline_actions", keyField: "id", autoIncrement: true, indexes: []string{TimestampIndex}},
}

// Collections lists every collection in a stable order.
func Collections() []Collection {
	return []Collection{Events, Services, Venues, Messages, Notifications, UserDataColl, OfflineActions}
}

// ParseCollection validates a collection name coming from the outside.
func ParseCollection(name string) (Collection, error) {
	c := Collection(name)
	if _, ok := schemas[c]; !ok {
		return "", fmt.Errorf("%w: %q", common.ErrUnknownCollection, name)
	}
	return c, nil
}

// KeyField is the JSON field holding the collection's primary key.
func (c Collection) KeyField() string { return schemas[c].keyField }

// AutoIncrement reports whether keys are assigned by the store.
func (c Collection) AutoIncrement() bool { return schemas[c].autoIncrement }

// HasIndex reports whether the collection declares the secondary index.
func (c Collection) HasIndex(index string) bool {
	for _, ix := range schemas[c].indexes {
		if ix == index {
			return true
		}
	}
	return false
}

func (c Collection) schema() (schema, error) {
	s, ok := schemas[c]
	if !ok {
		return schema{}, fmt.Errorf("%w: %q", common.ErrUnknownCollection, string(c))
	}
	return s, nil
}
