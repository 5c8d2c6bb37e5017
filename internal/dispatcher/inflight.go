package dispatcher

import (
	"sync"

	"github.com/pmcloud/serclient/internal/response"
)

// InFlight holds one Response per correlation id between the moment a
// supervisor finishes a command and the moment the host's matching
// AUTHRESPONSE arrives to collect it. Write-once, read-and-delete, per §5.
type InFlight struct {
	mu      sync.Mutex
	entries map[string]response.Response
}

// NewInFlight constructs an empty InFlight table.
func NewInFlight() *InFlight {
	return &InFlight{entries: make(map[string]response.Response)}
}

// Store records resp under correlationID, overwriting any stale entry (a
// correlation id is never reused by the host while still in flight).
func (f *InFlight) Store(correlationID string, resp response.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[correlationID] = resp
}

// TakeAndDelete returns and removes the Response stored under
// correlationID, if any.
func (f *InFlight) TakeAndDelete(correlationID string) (response.Response, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, ok := f.entries[correlationID]
	if ok {
		delete(f.entries, correlationID)
	}
	return resp, ok
}
