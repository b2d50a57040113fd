package engine

import (
	"errors"

	"refnet.org/internal/member"
)

var (
	// ErrEarningWindowExpired is terminal: callers must not retry.
	ErrEarningWindowExpired = errors.New("earning window expired")
	// ErrMembershipNotActive rejects operations that require an ACTIVE membership.
	ErrMembershipNotActive = errors.New("membership not active")
	// ErrMembershipAlreadyActive rejects activation of an already-active membership.
	ErrMembershipAlreadyActive = errors.New("membership already active")
)

// Terminal reports whether the error is a final business outcome that must
// not be retried, as opposed to a transient store failure where an
// idempotent re-invocation is safe.
func Terminal(err error) bool {
	return errors.Is(err, ErrEarningWindowExpired) ||
		errors.Is(err, member.ErrAlreadyCreditedToday) ||
		errors.Is(err, ErrMembershipNotActive) ||
		errors.Is(err, ErrMembershipAlreadyActive)
}
