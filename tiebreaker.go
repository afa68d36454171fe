package mediabridge

import (
	"fmt"

	"github.com/pion/mediabridge/pkg/description"
)

// TieBreaker returns the value compared when both sides sent an offer. The
// side with the lexicographically smaller value rolls back its own offer.
type TieBreaker func(offer *description.Description) string

// SessionIDTieBreaker uses the o= session id, zero padded so the string
// order equals the numeric order.
func SessionIDTieBreaker(offer *description.Description) string {
	return fmt.Sprintf("%020d", offer.SessionID)
}

type glareOutcome int

const (
	glareRollback glareOutcome = iota
	glareIgnore
	glareUnresolved
)

func resolveGlare(t TieBreaker, local, remote *description.Description) glareOutcome {
	l, r := t(local), t(remote)
	switch {
	case l < r:
		return glareRollback
	case l > r:
		return glareIgnore
	default:
		return glareUnresolved
	}
}
