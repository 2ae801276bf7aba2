// Package scheduler binds accounts to cron triggers.
//
// It owns two things:
//   - the schedule grammar (plain 5-field cron, or the R(HH:MM-HH:MM) random
//     window extension) via Resolve
//   - a registry of live triggers, at most one per account, plus the daily
//     retention trigger
//
// Execution is delegated to internal/task/engine; a fire only submits work.
package scheduler
