// Package archive relocates aged closed conversations and their message
// history into cold-storage tables, one atomic transaction per conversation,
// tolerating individual failures.
package archive
