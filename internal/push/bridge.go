package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"github.com/dmitrijs2005/offlinegate/internal/store"
	"github.com/dmitrijs2005/offlinegate/internal/timex"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// Bridge subscribes to the backend's push socket.
type Bridge struct {
	url       string
	store     store.Store
	notifiers []Notifier
	logger    logging.Logger
	backoff   *backoff.ExponentialBackOff
}

// NewBridge returns a bridge for the websocket at url. Received
// notifications are stored in s when it is not nil.
func NewBridge(url string, s store.Store, logger logging.Logger, notifiers ...Notifier) *Bridge {
	if logger == nil {
		logger = logging.Nop()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	return &Bridge{
		url:       url,
		store:     s,
		notifiers: notifiers,
		logger:    logger.With("module", "push"),
		backoff:   bo,
	}
}

// Run keeps a subscription open until ctx is done, reconnecting with
// exponential backoff. With an empty url it returns immediately.
func (b *Bridge) Run(ctx context.Context) error {
	if b.url == "" {
		return nil
	}
	for {
		err := b.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d := b.backoff.NextBackOff()
		b.logger.Warn(ctx, "push connection lost", "error", err, "retry_in", d.String())

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (b *Bridge) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	b.backoff.Reset()
	b.logger.Info(ctx, "push connected", "url", b.url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if _, err := b.Deliver(ctx, data); err != nil {
			b.logger.Warn(ctx, "push event rejected", "error", err)
		}
	}
}

// Deliver handles one raw push event: it fills in defaults, stores the
// notification and passes it to every notifier. Notifier failures are
// logged.
func (b *Bridge) Deliver(ctx context.Context, raw []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Notification{}, fmt.Errorf("decode push event: %w", err)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.ReceivedAt == 0 {
		n.ReceivedAt = timex.NowMillis()
	}

	if b.store != nil {
		if err := b.store.Put(ctx, store.Notifications, n); err != nil {
			return n, fmt.Errorf("store notification: %w", err)
		}
	}

	var errs []error
	for _, nt := range b.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		b.logger.Warn(ctx, "notifier failed", "id", n.ID, "error", err)
	}
	return n, nil
}
