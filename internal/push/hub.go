package push

import (
	"context"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/offlinegate/internal/logging"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const subscriberBuffer = 16

// Hub fans notifications out to local subscribers. A subscriber that falls
// behind loses notifications instead of blocking the others.
type Hub struct {
	logger logging.Logger

	mu   sync.Mutex
	subs map[chan Notification]struct{}
}

func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Hub{
		logger: logger.With("module", "push-hub"),
		subs:   make(map[chan Notification]struct{}),
	}
}

// Subscribe returns a channel of notifications and a func that ends the
// subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Notify(ctx context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.logger.Warn(ctx, "subscriber lagging, notification dropped", "id", n.ID)
		}
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket and streams notifications
// as JSON text frames until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ch, cancel := h.Subscribe()
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, n); err != nil {
				return
			}
		}
	}
}
