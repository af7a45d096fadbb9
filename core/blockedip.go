package core

import (
	"time"

	"github.com/google/uuid"
)

// DefaultBlockMinutes is the default duration of an IP block
const DefaultBlockMinutes = 24 * 60

// BlockedIP represents an active or expired network block for one address.
//
// Invariant: at most one active block per ip_address. This is enforced by a
// read-before-write existence check, not a storage constraint, so two
// concurrent blocks of the same address can race and both land. That is an
// accepted trade-off: blocks are low-frequency, human-reviewed actions.
type BlockedIP struct {
	ID           string    `json:"id"`
	IPAddress    string    `json:"ip_address"`
	Reason       string    `json:"reason"`
	BlockedUntil time.Time `json:"blocked_until"`
	Active       bool      `json:"active"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewBlockedIP creates an active block lasting the given number of minutes
func NewBlockedIP(ipAddress, reason string, minutes int) *BlockedIP {
	if minutes <= 0 {
		minutes = DefaultBlockMinutes
	}
	now := time.Now().UTC()
	return &BlockedIP{
		ID:           uuid.New().String(),
		IPAddress:    ipAddress,
		Reason:       reason,
		BlockedUntil: now.Add(time.Duration(minutes) * time.Minute),
		Active:       true,
		CreatedAt:    now,
	}
}

// IsExpired reports whether the block window has elapsed
func (b *BlockedIP) IsExpired() bool {
	return time.Now().After(b.BlockedUntil)
}
