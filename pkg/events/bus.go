// Package events fans run events out to per-session subscribers.
//
// Each session key is a topic with its own lock and sequence counter.
// Publishing assigns the sequence number and delivers to every subscriber
// under that lock, so each subscriber sees a session's events in order.
// Subscriber channels are bounded and lossy: a full buffer drops the event
// rather than stalling the run, except for Complete, which evicts the
// oldest buffered event to make room.
//
// A topic lives only while it has subscribers. Events published to a
// session nobody watches are dropped, and numbering restarts at 1 once the
// session's last subscriber has gone.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/ranya-engine/internal/observability"
)

const defaultBufferSize = 256

// Config configures a Bus
type Config struct {
	BufferSize int
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// Bus routes events to subscribers by session key
type Bus struct {
	topics     sync.Map // session key -> *topic
	bufferSize int
	logger     zerolog.Logger
	clock      func() time.Time
	nextSubID  atomic.Uint64
}

type topic struct {
	mu   sync.Mutex
	seq  uint64
	subs map[uint64]*Subscription
	dead bool // removed from the bus; subscribers must fetch a new topic
}

// NewBus creates an event bus
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Bus{
		bufferSize: cfg.BufferSize,
		logger:     cfg.Logger.With().Str("component", "events").Logger(),
		clock:      cfg.Clock,
	}
}

func (b *Bus) topic(key string) *topic {
	if v, ok := b.topics.Load(key); ok {
		return v.(*topic)
	}
	v, _ := b.topics.LoadOrStore(key, &topic{subs: make(map[uint64]*Subscription)})
	return v.(*topic)
}

// Subscribe registers for future events of sessionKey. No replay.
func (b *Bus) Subscribe(sessionKey string) *Subscription {
	return b.subscribe(sessionKey, false)
}

// SubscribeRun is like Subscribe but closes the subscription after the
// first Complete event it receives.
func (b *Bus) SubscribeRun(sessionKey string) *Subscription {
	return b.subscribe(sessionKey, true)
}

func (b *Bus) subscribe(sessionKey string, untilComplete bool) *Subscription {
	sub := &Subscription{
		id:            b.nextSubID.Add(1),
		key:           sessionKey,
		ch:            make(chan Event, b.bufferSize),
		bus:           b,
		untilComplete: untilComplete,
	}
	for {
		t := b.topic(sessionKey)
		t.mu.Lock()
		if t.dead {
			t.mu.Unlock()
			continue
		}
		t.subs[sub.id] = sub
		t.mu.Unlock()
		return sub
	}
}

// Publish stamps ev with the next sequence number of its session and
// delivers it. The stamped event is returned. Without subscribers the event
// is discarded and Seq stays zero.
func (b *Bus) Publish(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.clock()
	}
	v, ok := b.topics.Load(ev.SessionKey)
	if !ok {
		return ev
	}
	t := v.(*topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dead {
		return ev
	}

	t.seq++
	ev.Seq = t.seq

	for id, sub := range t.subs {
		if !sub.deliver(ev) {
			observability.RecordEventDropped(string(ev.Type))
			b.logger.Debug().
				Str("session_key", ev.SessionKey).
				Str("type", string(ev.Type)).
				Uint64("seq", ev.Seq).
				Uint64("subscriber", id).
				Msg("Subscriber buffer full, event dropped")
		}
		if sub.untilComplete && ev.IsTerminal() {
			delete(t.subs, id)
			sub.closeChannel()
		}
	}
	b.retire(ev.SessionKey, t)
	return ev
}

// retire drops t from the bus once it has no subscribers. Runs under t.mu.
func (b *Bus) retire(key string, t *topic) {
	if len(t.subs) > 0 || t.dead {
		return
	}
	t.dead = true
	b.topics.CompareAndDelete(key, t)
}

// Topics returns the number of sessions with live subscriptions
func (b *Bus) Topics() int {
	n := 0
	b.topics.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Subscribers returns the number of live subscriptions for a session
func (b *Bus) Subscribers(sessionKey string) int {
	v, ok := b.topics.Load(sessionKey)
	if !ok {
		return 0
	}
	t := v.(*topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (b *Bus) unsubscribe(sub *Subscription) {
	v, ok := b.topics.Load(sub.key)
	if !ok {
		return
	}
	t := v.(*topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[sub.id]; ok {
		delete(t.subs, sub.id)
		sub.closeChannel()
		b.retire(sub.key, t)
	}
}

// Subscription is a bounded, ordered view of one session's events
type Subscription struct {
	id            uint64
	key           string
	ch            chan Event
	bus           *Bus
	untilComplete bool
	dropped       atomic.Uint64
	closed        bool // guarded by the topic lock
}

// C returns the event channel. It is closed on Close or, for run
// subscriptions, after Complete.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns the number of events lost to a full buffer
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close stops delivery and closes the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// deliver runs under the topic lock
func (s *Subscription) deliver(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
	}
	s.dropped.Add(1)
	if !ev.IsTerminal() {
		return false
	}
	// Make room for the terminal event by evicting the oldest one
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
	return false
}

func (s *Subscription) closeChannel() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
