// Package ers implements the Expiry Reconciliation Service: a long-running
// poll loop over the on-chain request market that tracks locked requests,
// removes fulfilled or already-slashed ones, and slashes the rest once
// their deadline has passed.
package ers

import "github.com/oriys/zkrelay/internal/domain"

// classify maps a domain error to the Supervisor's fatal/recoverable split,
// defaulting to fatal for anything not explicitly marked recoverable so an
// unclassified failure never silently retries forever.
func classify(err error) (kind domain.ErrorKind, recoverable bool) {
	kind, ok := domain.KindOf(err)
	if !ok {
		return "", false
	}
	return kind, kind.Recoverable()
}
