package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published inside finpipe.
const (
	TopicActivitySourceFailed = "activity.source_failed"
	TopicActivityAggregated   = "activity.aggregated"
	TopicNotifySent           = "notify.sent"
	TopicNotifyFailed         = "notify.failed"
	TopicMaturityProcessed    = "maturity.processed"
	TopicConfigReloaded       = "config.reloaded"
	TopicScheduleRun          = "schedule.run"
)

// Event is an in-memory signal between components.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
// Data should stay small (ids, counts, codes), never rendered message bodies.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Emit publishes on b when b is non-nil.
func Emit(b Bus, topic string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: topic, Data: data})
}

// Drain reads events of the given topics from ch into fn until ch closes.
// Used by components that mirror bus traffic into their own state.
func Drain(ch <-chan Event, fn func(Event), topics ...string) {
	want := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		want[t] = struct{}{}
	}
	for e := range ch {
		if len(want) > 0 {
			if _, ok := want[e.Type]; !ok {
				continue
			}
		}
		fn(e)
	}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		send(ch, e)
	}
}

// send drops on a full buffer. An unsubscribe racing with Publish may close
// ch underneath us; the recover absorbs that send.
func send(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
