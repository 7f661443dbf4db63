// Package audit provides fire-and-forget persistence of lifecycle, SLA and
// archive events. Emit posts to a bounded queue consumed asynchronously;
// a full queue drops rather than blocking the caller.
package audit
