// Package broadcast fans session events out to live subscribers.
//
// Each session owns a Topic. Publishing never blocks: a subscriber whose
// buffer is full is dropped and its channel closed, so one slow connection
// cannot stall the session or any other subscriber.
package broadcast

import (
	"sync"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/metrics"
)

const DefaultBuffer = 64

type Subscriber struct {
	ID       string
	PlayerID string
	ch       chan events.Envelope
}

// C delivers envelopes in publish order. It is closed when the subscriber is
// removed, dropped, or the topic closes.
func (s *Subscriber) C() <-chan events.Envelope { return s.ch }

type Topic struct {
	code   string
	buffer int
	log    *zap.Logger

	mu     sync.Mutex
	seq    uint64
	subs   map[string]*Subscriber
	closed bool
}

func newTopic(code string, buffer int, log *zap.Logger) *Topic {
	return &Topic{code: code, buffer: buffer, log: log, subs: make(map[string]*Subscriber)}
}

// Subscribe registers a subscriber and hands it snapshot as its first
// envelope, stamped with the sequence number of the last published event.
// Subscribing to a closed topic yields the snapshot and a closed channel.
func (t *Topic) Subscribe(playerID string, snapshot events.Event) *Subscriber {
	buf := t.buffer
	if buf < 1 {
		buf = 1
	}
	sub := &Subscriber{ID: xid.New().String(), PlayerID: playerID, ch: make(chan events.Envelope, buf)}

	t.mu.Lock()
	defer t.mu.Unlock()
	if snapshot != nil {
		sub.ch <- events.Envelope{Seq: t.seq, Event: snapshot}
	}
	if t.closed {
		close(sub.ch)
		return sub
	}
	t.subs[sub.ID] = sub
	metrics.RecordSubscriberAdded()
	return sub
}

// Unsubscribe removes the subscriber; it reports false if it was already gone.
func (t *Topic) Unsubscribe(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[id]
	if !ok {
		return false
	}
	t.remove(sub)
	return true
}

// Publish stamps ev with the next sequence number and offers it to every
// current subscriber. It returns the sequence number, or 0 if the topic is
// closed. A terminal event closes the topic after delivery.
func (t *Topic) Publish(ev events.Event) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0
	}
	t.seq++
	env := events.Envelope{Seq: t.seq, Event: ev}
	for id, sub := range t.subs {
		select {
		case sub.ch <- env:
		default:
			t.log.Warn("dropping slow subscriber",
				zap.String("code", t.code), zap.String("subscriber", id), zap.String("player_id", sub.PlayerID))
			metrics.RecordSubscriberDropped()
			t.remove(sub)
		}
	}
	if events.Terminal(ev) {
		t.closeLocked()
	}
	return t.seq
}

func (t *Topic) Close() {
	t.mu.Lock()
	t.closeLocked()
	t.mu.Unlock()
}

func (t *Topic) closeLocked() {
	if t.closed {
		return
	}
	t.closed = true
	for _, sub := range t.subs {
		t.remove(sub)
	}
}

func (t *Topic) remove(sub *Subscriber) {
	delete(t.subs, sub.ID)
	close(sub.ch)
	metrics.RecordSubscriberRemoved()
}

// Len is the number of live subscribers.
func (t *Topic) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}


type Option func(*Hub)

func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// Hub indexes topics by session code. The hub lock only guards the index;
// delivery happens under each topic's own lock.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*Topic
	buffer int
	log    *zap.Logger
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{topics: make(map[string]*Topic), buffer: DefaultBuffer, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open returns the topic for code, creating it if needed.
func (h *Hub) Open(code string) *Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[code]; ok {
		return t
	}
	t := newTopic(code, h.buffer, h.log)
	h.topics[code] = t
	return t
}

func (h *Hub) Topic(code string) (*Topic, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.topics[code]
	return t, ok
}

// Remove closes the topic for code and forgets it.
func (h *Hub) Remove(code string) {
	h.mu.Lock()
	t, ok := h.topics[code]
	delete(h.topics, code)
	h.mu.Unlock()
	if ok {
		t.Close()
	}
}
