package live

import (
	"sync"
	"time"

	"github.com/funnelscope/funnelscope/internal/platform/logger"
)

// Snapshot is a best-effort view of one funnel's recent activity. It is
// computed off the write path and may lag it; consumers must treat it as
// eventually consistent.
type Snapshot struct {
	FunnelID          string    `json:"funnelId"`
	ActiveUsers       int       `json:"activeUsers"`
	WindowEntries     int       `json:"windowEntries"`
	WindowConversions int       `json:"windowConversions"`
	Rate              float64   `json:"rate"`
	ComputedAt        time.Time `json:"computedAt"`
}

// Hub fans snapshots out to subscribers over bounded channels. A slow
// subscriber never blocks the publisher: when its channel is full the
// stale snapshot is dropped and the latest one takes its place.
type Hub struct {
	mu     sync.RWMutex
	log    *logger.Logger
	subs   map[chan Snapshot]struct{}
	latest map[string]Snapshot
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:    log.With("component", "liveHub"),
		subs:   make(map[chan Snapshot]struct{}),
		latest: make(map[string]Snapshot),
	}
}

// Subscribe registers a new listener. The returned cancel function must
// be called to release it.
func (h *Hub) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish records the snapshot as the funnel's latest and offers it to
// every subscriber without blocking.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	h.latest[s.FunnelID] = s
	for ch := range h.subs {
		select {
		case ch <- s:
		default:
			// Drop the intermediate snapshot, keep the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
	h.mu.Unlock()
	h.log.Debug("published live snapshot", "funnelID", s.FunnelID, "activeUsers", s.ActiveUsers)
}

// Latest returns the most recent snapshot for a funnel, if any.
func (h *Hub) Latest(funnelID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.latest[funnelID]
	return s, ok
}
