// Package clockid provides the proxy's notion of time and request identity.
//
// Production code never calls time.Now or uuid.NewString directly; it goes
// through a Clock so tests can substitute a fake one, matching the narrow
// capability-interface style the rest of the data plane uses for its
// external collaborators.
package clockid

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts monotonic time and request-id generation.
type Clock interface {
	// Now returns the current time. Implementations must use a monotonic
	// clock reading (time.Now satisfies this on all supported platforms).
	Now() time.Time
	// NewRequestID returns a unique per-connection-request hex token.
	NewRequestID() string
}

// System is the production Clock backed by the OS clock and a UUID generator.
type System struct{}

// NewSystem returns the production Clock.
func NewSystem() System { return System{} }

// Now implements Clock.
func (System) Now() time.Time { return time.Now() }

// NewRequestID implements Clock using a random UUIDv4 rendered without dashes,
// giving a compact hex token that is unique within the process for practical
// purposes.
func (System) NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
