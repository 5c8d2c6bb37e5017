// Package reassembly implements the fragment reassembler (C3): it collects
// the fragments of a multi-packet message by correlation id and emits a
// RECEIVED acknowledgement for each one, forwarding a synthetic completed
// message once every fragment has arrived.
package reassembly

import (
	"fmt"

	"github.com/pmcloud/serclient/internal/wire"
)

type entry struct {
	kind     wire.Kind
	count    uint32
	received map[uint32]wire.Packet
}

// Table tracks in-progress multi-packet messages by correlation id.
type Table struct {
	entries map[string]*entry
}

// NewTable constructs an empty reassembly table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Result is what Accept produces for one inbound packet.
type Result struct {
	// Ack, if non-nil, is the RECEIVED packet to send for this fragment.
	// Single packets produce no Ack here (§4.5 step 3 handles their
	// RECEIVED as part of command acceptance, uniformly).
	Ack *wire.Packet

	// Completed, if non-nil, is the synthetic single-packet message
	// assembled from every fragment, ready to hand to the dispatcher as
	// if it had arrived whole.
	Completed *wire.Packet
}

// Accept processes one inbound packet and reports what the dispatcher
// should do with it. err is non-nil only for a malformed fragment set (a
// mid-stream fragment-count or kind disagreement, or a fragment index
// missing at completion); Accept has already dropped the table entry, so
// the caller only logs it, per §4.3/§7.
func (t *Table) Accept(p wire.Packet) (Result, error) {
	if p.Single() {
		return Result{}, nil
	}

	e, ok := t.entries[p.CorrelationID]
	if !ok {
		e = &entry{kind: p.Kind, count: p.FragmentCount, received: make(map[uint32]wire.Packet)}
		t.entries[p.CorrelationID] = e
	} else if e.count != p.FragmentCount || e.kind != p.Kind {
		delete(t.entries, p.CorrelationID)
		return Result{}, fmt.Errorf("reassembly: correlation id %s: fragment count/kind mismatch mid-stream", p.CorrelationID)
	}
	e.received[p.FragmentIndex] = p

	ack := wire.NewReceived(p.CorrelationID, p.FragmentIndex, p.FragmentCount)
	result := Result{Ack: &ack}

	if uint32(len(e.received)) < e.count {
		return result, nil
	}

	body := make([]byte, 0)
	for i := uint32(1); i <= e.count; i++ {
		frag, ok := e.received[i]
		if !ok {
			delete(t.entries, p.CorrelationID)
			return result, fmt.Errorf("reassembly: correlation id %s: missing fragment %d of %d at completion", p.CorrelationID, i, e.count)
		}
		body = append(body, frag.Body...)
	}
	delete(t.entries, p.CorrelationID)

	completed := wire.Packet{
		Kind:          e.kind,
		CorrelationID: p.CorrelationID,
		FragmentIndex: 1,
		FragmentCount: 1,
		Body:          body,
	}
	result.Completed = &completed
	return result, nil
}
