package dispatcher

import (
	"sync"

	"github.com/pmcloud/serclient/internal/wire"
)

// Mailbox is the thread-safe outbound queue supervisors and the dispatcher
// itself post packets to; the dispatcher's own goroutine is the only reader
// (§5: "Supervisors communicate with the dispatcher only via the
// OutboundMailbox").
type Mailbox struct {
	mu    sync.Mutex
	queue []wire.Packet
}

// NewMailbox constructs an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Post enqueues a packet for the dispatcher to serialize onto the link.
func (m *Mailbox) Post(p wire.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, p)
}

// drainAll atomically removes and returns every currently queued packet, in
// the order they were posted.
func (m *Mailbox) drainAll() []wire.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	drained := m.queue
	m.queue = nil
	return drained
}
