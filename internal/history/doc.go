package history

// Package history persists completed task runs.
//
// It currently supports:
//   - Append-only run records (one per task execution, retries included)
//   - Recent-run queries for the CLI and for notifications
