package record

import (
	"sync"

	"github.com/google/uuid"
)

var (
	issuedMu sync.Mutex
	issued   = map[string]struct{}{}
)

// NewUID returns an 8-character identifier not previously handed out by
// this process.
func NewUID() string {
	issuedMu.Lock()
	defer issuedMu.Unlock()
	for {
		id := uuid.NewString()[:8]
		if _, dup := issued[id]; dup {
			continue
		}
		issued[id] = struct{}{}
		return id
	}
}
