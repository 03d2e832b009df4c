// Package scheduler registers triggers (cron, interval and named one-shot
// timers) and hands each firing to the task engine for execution.
//
// One-shot timers are upserted by name: adding a name that already exists
// replaces the previous timer. HostTimer exposes them as host.Timer.
package scheduler
