// Package dedupe provides inbound event deduplication using a time-based
// cache, so at-least-once webhook redelivery cannot replay a transition.
package dedupe
