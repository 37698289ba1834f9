package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// BroadcastSink wraps another Sink and additionally fans every appended
// Event out to connected WebSocket subscribers, backing the read-only
// `relaycore events` CLI view. It carries no admission authority:
// a slow or absent subscriber never blocks Append, and a subscriber that
// falls behind is dropped rather than backpressuring the router.
type BroadcastSink struct {
	next   Sink
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewBroadcastSink wraps next (use NopSink{} to broadcast without also
// persisting).
func NewBroadcastSink(next Sink, logger *zap.Logger) *BroadcastSink {
	if next == nil {
		next = NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BroadcastSink{next: next, logger: logger, subscribers: make(map[chan Event]struct{})}
}

// Append forwards ev to the wrapped sink, then fans it out to every
// currently-connected subscriber. A subscriber whose buffer is full is
// skipped for this event rather than blocking the caller.
func (b *BroadcastSink) Append(ctx context.Context, ev Event) {
	b.next.Append(ctx, ev)

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *BroadcastSink) subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *BroadcastSink) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// ServeHTTP upgrades the request to a WebSocket and streams every
// subsequently appended Event as a JSON text frame until the client
// disconnects. It is read-only: the connection never accepts frames from
// the client other than the control frames websocket.Accept handles.
func (b *BroadcastSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("audit_events_ws_accept_failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			writeErr := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if writeErr != nil {
				return
			}
		}
	}
}
