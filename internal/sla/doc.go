// Package sla records first-response and resolution service levels.
// Both recordings are idempotent: a non-null stored value blocks any
// recomputation, so at-least-once event replays cannot overwrite or
// double-count a correct fact.
package sla
