package events

import (
	"sync"
	"sync/atomic"

	"github.com/vadiminshakov/svault/internal/domain"
)

// kindSet is a subscription filter. An empty set matches every kind.
type kindSet map[domain.AuditKind]struct{}

func newKindSet(kinds []domain.AuditKind) kindSet {
	if len(kinds) == 0 {
		return nil
	}
	set := make(kindSet, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return set
}

func (s kindSet) match(k domain.AuditKind) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[k]
	return ok
}

// AuditBroadcaster fans out stored audit records to subscribers via buffered channels.
// Each subscriber may narrow the stream to a set of audit kinds.
type AuditBroadcaster struct {
	mu      sync.RWMutex
	subs    map[chan domain.AuditRecord]kindSet
	buffer  int
	dropped atomic.Uint64
}

// NewAuditBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewAuditBroadcaster(buffer int) *AuditBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &AuditBroadcaster{
		subs:   make(map[chan domain.AuditRecord]kindSet),
		buffer: buffer,
	}
}

// Publish sends the record to every subscriber whose filter matches its kind. A full
// subscriber misses the record; readers detect the gap by index.
func (b *AuditBroadcaster) Publish(r domain.AuditRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, kinds := range b.subs {
		if !kinds.match(r.Kind) {
			continue
		}
		select {
		case ch <- r:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel that receives records of the given kinds, or of every kind when
// none are given, until Unsubscribe is called.
func (b *AuditBroadcaster) Subscribe(kinds ...domain.AuditKind) chan domain.AuditRecord {
	ch := make(chan domain.AuditRecord, b.buffer)
	b.mu.Lock()
	b.subs[ch] = newKindSet(kinds)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *AuditBroadcaster) Unsubscribe(ch chan domain.AuditRecord) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (b *AuditBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *AuditBroadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
