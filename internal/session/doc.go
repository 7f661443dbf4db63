// Package session orchestrates the conversation lifecycle.
//
// # State machine
//
// A conversation moves through bot -> pending -> open -> closed, with
// assignment and the handover flag layered on top. The derived
// store.RoutingMode collapses those into a single ownership variant. Legal
// transitions:
//
//   - first inbound message with no active conversation: create in bot
//   - handover keyword or RouteNow: open (assigned) or pending (queued)
//   - operator Take: open, assigned to the taker
//   - Reassign: same status, new holder
//   - reset keyword: open, assignment and handover cleared
//   - Close: closed, assignment cleared, resolution recorded
//
// # Concurrency
//
// The Controller is the sole writer of status, operator and handover. Each
// transition acquires the conversation's keyed lock, re-reads current state,
// decides, and issues a guarded compare-and-set write. Two concurrent
// routing triggers on one pending conversation therefore resolve to exactly
// one assignment; the loser observes the winner's result.
//
// # Expected outcomes vs errors
//
// Conflicts (ErrAlreadyAssigned, ErrAlreadyClosed, ErrSelfReassign,
// ErrNotAnOperator) and the no-operator-available outcome are ordinary
// results reported to the caller, never panics and never system errors.
// Audit emission and assignment notification are best-effort side work that
// cannot fail a transition.
package session
