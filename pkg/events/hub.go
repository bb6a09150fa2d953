// Package events fans block changes out to the owner's connected clients.
//
// [Hub] implements tree.Notifier. Each subscription has a bounded buffer; a subscriber
// that falls behind loses messages rather than slowing down writers. [Hub.Handler]
// serves subscriptions over WebSocket.
package events

import (
	"context"
	"sync"

	"github.com/hydranotes/hydra/pkg/metrics"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/hydranotes/hydra/pkg/tree"
	"github.com/rs/zerolog"
)

// DefaultBuffer is the number of changes queued per subscriber.
const DefaultBuffer = 64

// Subscription receives the changes of one owner.
type Subscription struct {
	C     <-chan tree.Change
	ch    chan tree.Change
	owner models.UserID
	hub   *Hub
	once  sync.Once
}

// Close detaches the subscription. C is closed afterwards.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub tracks subscriptions per owner.
type Hub struct {
	mu      sync.RWMutex
	subs    map[models.UserID]map[*Subscription]struct{}
	buffer  int
	log     zerolog.Logger
	dropped uint64
}

var _ tree.Notifier = (*Hub)(nil)

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[models.UserID]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		log:    log,
	}
}

// Subscribe registers a subscriber for owner's changes.
func (h *Hub) Subscribe(owner models.UserID) *Subscription {
	ch := make(chan tree.Change, h.buffer)
	s := &Subscription{C: ch, ch: ch, owner: owner, hub: h}

	h.mu.Lock()
	if h.subs[owner] == nil {
		h.subs[owner] = make(map[*Subscription]struct{})
	}
	h.subs[owner][s] = struct{}{}
	h.mu.Unlock()

	metrics.SubscriberConnected()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.owner]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.owner)
		}
	}
	close(s.ch)
	metrics.SubscriberDisconnected()
}

// Publish delivers c to the subscribers of c.OwnerID without blocking.
func (h *Hub) Publish(ctx context.Context, c tree.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[c.OwnerID] {
		select {
		case s.ch <- c:
		default:
			h.dropped++
			h.log.Warn().Str("owner", c.OwnerID.String()).Str("block", c.BlockID.String()).Msg("subscriber is behind, change dropped")
		}
	}
}

// Subscribers returns the number of live subscriptions of owner.
func (h *Hub) Subscribers(owner models.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[owner])
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
