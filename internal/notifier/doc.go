// Package notifier shows user-visible notifications.
//
// Show is fire-and-forget: it never returns an error to the caller. Messages
// go through a bounded queue to a worker pool that rate-limits, retries with
// jittered backoff and fans out to every configured transport.Sink.
//
// # Dedup
//
// Identical messages inside DedupWindow are suppressed. ShowKeyed uses an
// explicit key (a reminder's timer name) with a longer window so a reminder
// delivered twice by the host produces one notification. Suppression windows
// can be persisted through the key/value store to survive restarts.
//
// # History
//
// The last 300 delivered notifications are kept in memory for /status.
package notifier
