package store

import (
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// tableKey identifies one notebook's table for subscription routing.
type tableKey struct {
	notebookID string
	table      Table
}

type subscriberEntry struct {
	id       uint64
	selector Selector
	onUpdate UpdateFunc
}

// changeBus fans out "this table changed" notifications, generalized from
// the teacher's event.Bus from a fixed EventType set to (notebookID,
// table) keys. Like the teacher's bus, the watermill gochannel it wraps is
// instantiated and reachable via PubSub() for middleware/routing or a
// future distributed backend, but actual delivery to subscribers uses
// direct calls — the bus exists to preserve commit ordering for a single
// process, not to decouple producer from consumer.
type changeBus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel

	subscribers map[tableKey][]subscriberEntry
	nextID      uint64
	closed      bool
}

func newChangeBus() *changeBus {
	return &changeBus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		subscribers: make(map[tableKey][]subscriberEntry),
	}
}

// subscribe registers onUpdate against sel's (notebookID, table) and
// returns an unsubscribe func. It does not deliver an initial snapshot;
// the caller (Store.Subscribe) is responsible for that per spec root §6.
func (b *changeBus) subscribe(sel Selector, onUpdate UpdateFunc) func() {
	key := tableKey{notebookID: sel.NotebookID, table: sel.Table}
	id := atomic.AddUint64(&b.nextID, 1)

	b.mu.Lock()
	if !b.closed {
		b.subscribers[key] = append(b.subscribers[key], subscriberEntry{id: id, selector: sel, onUpdate: onUpdate})
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subscribers[key]
		for i, e := range entries {
			if e.id == id {
				b.subscribers[key] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// notify re-runs every subscriber registered against (notebookID, table)
// using reload, which must return that table's full current row set for
// the notebook.
func (b *changeBus) notify(notebookID string, table Table, reload func(Selector) ([]any, error)) {
	key := tableKey{notebookID: notebookID, table: table}

	b.mu.RLock()
	entries := append([]subscriberEntry(nil), b.subscribers[key]...)
	b.mu.RUnlock()

	for _, entry := range entries {
		rows, err := reload(entry.selector)
		if err != nil {
			continue
		}
		entry.onUpdate(rows)
	}
}

func (b *changeBus) close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[tableKey][]subscriberEntry)
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub exposes the underlying watermill GoChannel, matching the
// teacher's event.Bus.PubSub escape hatch for middleware/routing.
func (b *changeBus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
