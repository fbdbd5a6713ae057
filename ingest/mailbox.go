package ingest

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO of playlist ids for one video. The router
// never blocks on a slow worker; the worker drains in arrival order.
type mailbox struct {
	mu     sync.Mutex
	items  []string
	closed bool
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) put(id string) {
	m.mu.Lock()
	m.items = append(m.items, id)
	m.mu.Unlock()
	m.signal()
}

// close marks the end of input. Items already queued are still delivered.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// next blocks until an item arrives or the mailbox is closed and empty, in
// which case ok is false.
func (m *mailbox) next(ctx context.Context) (id string, ok bool, err error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			id = m.items[0]
			m.items[0] = ""
			m.items = m.items[1:]
			m.mu.Unlock()
			return id, true, nil
		}
		if m.closed {
			m.mu.Unlock()
			return "", false, nil
		}
		m.mu.Unlock()

		select {
		case <-m.ready:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}
