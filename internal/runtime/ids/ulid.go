package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// Message contexts and transport peers are identified by ULIDs.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewRequestID returns a random UUID used to correlate a request with its
// response. Correlation ids must never repeat within a process so that a late
// response for a timed-out request cannot be delivered to a newer one.
func NewRequestID() string {
	return uuid.NewString()
}
