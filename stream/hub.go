// Package stream fans committed board events out to live subscribers.
package stream

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Subscription receives the events of one board. C is closed when the
// subscription ends, either by Close or because the subscriber fell behind.
type Subscription struct {
	C         <-chan domain.Event
	BoardID   string
	SessionID string

	ch      chan domain.Event
	hub     *Hub
	once    sync.Once
	dropped bool
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Dropped reports whether the hub closed the subscription for falling behind.
func (s *Subscription) Dropped() bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.dropped
}

// Hub is an in-process registry of board subscribers.
type Hub struct {
	buffer int
	logger *log.Logger

	mu      sync.RWMutex
	boards  map[string]map[*Subscription]struct{}
	publish map[string]*publishLock
}

// publishLock serializes publishes on one board. It lives only while some
// publisher holds or waits for it.
type publishLock struct {
	sync.Mutex
	refs int
}

// NewHub returns a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, logger *log.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		buffer:  buffer,
		logger:  logger,
		boards:  make(map[string]map[*Subscription]struct{}),
		publish: make(map[string]*publishLock),
	}
}

// Subscribe registers a subscriber for boardID.
func (h *Hub) Subscribe(boardID, sessionID string) *Subscription {
	ch := make(chan domain.Event, h.buffer)
	sub := &Subscription{C: ch, BoardID: boardID, SessionID: sessionID, ch: ch, hub: h}
	h.mu.Lock()
	subs, ok := h.boards[boardID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.boards[boardID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Subscribers returns the number of live subscribers on boardID.
func (h *Hub) Subscribers(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boards[boardID])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach(sub)
}

// detach must be called with h.mu held for writing.
func (h *Hub) detach(sub *Subscription) {
	sub.once.Do(func() {
		if subs, ok := h.boards[sub.BoardID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.boards, sub.BoardID)
			}
		}
		close(sub.ch)
	})
}

func (h *Hub) lockBoard(boardID string) *publishLock {
	h.mu.Lock()
	l, ok := h.publish[boardID]
	if !ok {
		l = &publishLock{}
		h.publish[boardID] = l
	}
	l.refs++
	h.mu.Unlock()
	l.Lock()
	return l
}

func (h *Hub) unlockBoard(boardID string, l *publishLock) {
	l.Unlock()
	h.mu.Lock()
	if l.refs--; l.refs == 0 {
		delete(h.publish, boardID)
	}
	h.mu.Unlock()
}

// Publish delivers ev to every subscriber of boardID without blocking. A
// subscriber whose buffer is full is dropped; the others are unaffected.
// Events published for one board reach each subscriber in publish order.
func (h *Hub) Publish(_ context.Context, boardID string, ev domain.Event) {
	lock := h.lockBoard(boardID)
	defer h.unlockBoard(boardID, lock)

	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.boards[boardID]))
	for sub := range h.boards[boardID] {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	var slow []*Subscription
	for _, sub := range snapshot {
		if !h.offer(sub, ev) {
			slow = append(slow, sub)
		}
	}
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range slow {
		sub.dropped = true
		h.detach(sub)
	}
	h.mu.Unlock()
	for _, sub := range slow {
		h.logger.WithFields(log.Fields{"board_id": boardID, "session_id": sub.SessionID}).Warn("stream: dropping slow subscriber")
	}
}

// offer reports false when the subscriber's buffer is full. A subscriber that
// closed concurrently is skipped.
func (h *Hub) offer(sub *Subscription, ev domain.Event) (ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, live := h.boards[sub.BoardID][sub]; !live {
		return true
	}
	select {
	case sub.ch <- ev:
		return true
	default:
		return false
	}
}
