// Package pubsub implements process-wide channel and pattern fan-out for the
// PUBLISH/SUBSCRIBE command family.
//
// Concurrency Model:
//   - The channel map is guarded by a reader-writer lock: readers for PUBLISH
//     lookups and most subscription bookkeeping, writers only when a sender
//     is first created or the last receiver leaves.
//   - Each receiver owns a bounded buffer. A receiver that lags past the
//     bound loses its oldest messages and continues with the newest; callers
//     must not treat that as an error. Publishers never block on receivers.
package pubsub

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/russellromney/redlite-sub002/pkg/glob"
)

// patternPrefix namespaces pattern subscriptions inside the channel map.
const patternPrefix = "pattern:"

// DefaultBufferSize bounds each receiver's queue.
const DefaultBufferSize = 128

// Message is one published payload.
type Message struct {
	// Channel is the concrete channel it was published to (not the pattern).
	Channel string
	Payload []byte
}

// Broker routes published messages to channel and pattern receivers.
type Broker struct {
	log     *zap.Logger
	bufSize int

	mu     sync.RWMutex
	topics map[string]*topic
}

type topic struct {
	mu        sync.Mutex
	receivers map[*Receiver]struct{}
}

// Receiver is one subscription's inbound queue.
type Receiver struct {
	ch  chan Message
	key string
}

// NewBroker returns an empty broker. bufSize <= 0 selects the default.
func NewBroker(bufSize int, log *zap.Logger) *Broker {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Broker{
		log:     log.Named("pubsub"),
		bufSize: bufSize,
		topics:  make(map[string]*topic),
	}
}

// Subscribe attaches a receiver to an exact channel.
func (b *Broker) Subscribe(channel string) *Receiver {
	return b.attach(channel)
}

// SubscribePattern attaches a receiver to a glob pattern.
func (b *Broker) SubscribePattern(pattern string) *Receiver {
	return b.attach(patternPrefix + pattern)
}

func (b *Broker) attach(key string) *Receiver {
	r := &Receiver{ch: make(chan Message, b.bufSize), key: key}

	b.mu.RLock()
	t, ok := b.topics[key]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		t, ok = b.topics[key]
		if !ok {
			t = &topic{receivers: make(map[*Receiver]struct{})}
			b.topics[key] = t
		}
		b.mu.Unlock()
	}

	t.mu.Lock()
	t.receivers[r] = struct{}{}
	t.mu.Unlock()
	return r
}

// Unsubscribe detaches a receiver; the sender is removed once empty.
func (b *Broker) Unsubscribe(r *Receiver) {
	if r == nil {
		return
	}
	b.mu.RLock()
	t, ok := b.topics[r.key]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	delete(t.receivers, r)
	empty := len(t.receivers) == 0
	t.mu.Unlock()

	if empty {
		b.mu.Lock()
		// Re-check under the write lock: a new receiver may have attached.
		t.mu.Lock()
		if len(t.receivers) == 0 {
			delete(b.topics, r.key)
		}
		t.mu.Unlock()
		b.mu.Unlock()
	}
}

// Publish delivers payload to the exact channel's receivers and to every
// pattern receiver whose pattern matches. Returns the number of live
// receivers reached. A full receiver drops its oldest message to make room;
// it still counts as reached.
func (b *Broker) Publish(channel string, payload []byte) int64 {
	msg := Message{Channel: channel, Payload: payload}

	b.mu.RLock()
	targets := make([]*topic, 0, 2)
	if t, ok := b.topics[channel]; ok {
		targets = append(targets, t)
	}
	for key, t := range b.topics {
		if pattern, ok := strings.CutPrefix(key, patternPrefix); ok {
			if glob.Match(pattern, channel) {
				targets = append(targets, t)
			}
		}
	}
	b.mu.RUnlock()

	var delivered int64
	for _, t := range targets {
		t.mu.Lock()
		for r := range t.receivers {
			if r.offer(msg) {
				delivered++
			}
		}
		t.mu.Unlock()
	}
	return delivered
}

// NumSub returns the live receiver count for an exact channel.
func (b *Broker) NumSub(channel string) int64 {
	b.mu.RLock()
	t, ok := b.topics[channel]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.receivers))
}

// Channels returns active exact channels, optionally filtered by pattern.
func (b *Broker) Channels(pattern string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for key := range b.topics {
		if strings.HasPrefix(key, patternPrefix) {
			continue
		}
		if pattern == "" || glob.Match(pattern, key) {
			out = append(out, key)
		}
	}
	return out
}

// offer enqueues without blocking, dropping the oldest message on overflow.
func (r *Receiver) offer(msg Message) bool {
	select {
	case r.ch <- msg:
		return true
	default:
	}
	select {
	case <-r.ch:
	default:
	}
	select {
	case r.ch <- msg:
		return true
	default:
		return false
	}
}

// TryRecv returns the next buffered message without blocking.
func (r *Receiver) TryRecv() (Message, bool) {
	select {
	case msg := <-r.ch:
		return msg, true
	default:
		return Message{}, false
	}
}

// C exposes the queue for select-based waiting.
func (r *Receiver) C() <-chan Message { return r.ch }
