// Package routing selects operators for conversations.
//
// Two policies share one eligibility filter (agent role, online, active,
// heartbeat within the freshness window) and one cost function (count of
// the operator's open/pending conversations, ties broken by most recent
// liveness):
//
//   - AvailabilityRouter: pure least-loaded selection, used for automatic
//     handover assignment
//   - SkillRouter: restricts to operators declaring the conversation's
//     intent tag when any do, otherwise falls back to the full pool
//
// Selection is read-only. Atomicity of select-plus-assign is the session
// controller's responsibility: it holds the per-conversation lock and
// performs the guarded assignment write.
package routing
