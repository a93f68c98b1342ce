// Package push receives push events from the backend over a websocket,
// stores them as notifications and hands them to local notifiers.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/offlinegate/internal/logging"
)

// DefaultTitle is used for push events that carry no title.
const DefaultTitle = "New notification"

// Notification is a push event as stored in the notifications collection.
type Notification struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Body       string          `json:"body,omitempty"`
	Tag        string          `json:"tag,omitempty"`
	URL        string          `json:"url,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt int64           `json:"receivedAt"`
}

// Notifier shows a notification to the user in whatever way the host
// supports.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogNotifier writes notifications to the log, for headless hosts.
type LogNotifier struct {
	Logger logging.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	if l.Logger == nil {
		return fmt.Errorf("log notifier: no logger")
	}
	l.Logger.Info(ctx, "notification", "id", n.ID, "title", n.Title, "tag", n.Tag, "url", n.URL)
	return nil
}
