// Package store provides persistent storage for warren using SQLite.
//
// # Data Models
//
//   - Operator: routable human with role, presence, liveness and skills
//   - Conversation: one customer's lifecycle thread (bot/pending/open/closed)
//   - Message: conversation history, consumed for first-reply timing
//   - AuditEntry: append-only record of lifecycle and SLA actions
//
// Archive copies of conversations and messages live in dedicated tables
// (archived_conversations, archived_messages) that add an archived_at
// timestamp and drop the live operator foreign key.
//
// # Write Discipline
//
// Routing fields (status, operator_id, handover) are written only through
// SetRouting, a compare-and-set guarded by the state the caller observed.
// SLA fields are written only through SetFirstResponse/SetResolution, each
// guarded by its own is-null check so recording is idempotent.
// ArchiveConversation moves a conversation and its messages in one
// transaction.
//
// # SQLite Configuration
//
// WAL mode with foreign keys on, and immediate transaction locking:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// All timestamps are stored as RFC3339 UTC text. All methods accept
// context.Context for cancellation support.
package store
