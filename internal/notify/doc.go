// Package notify provides a lightweight notification service.
//
// Notifications are small, high-signal messages intended for operators: a
// task finished, a task failed, the supervisor hit an internal error. A
// message carries a title, a short body (usually the last few lines of the
// task's output), and the outcome it reports.
//
// # Sinks
//
// The service delegates delivery to a Sink implementation. The default is
// CommandSink, which spawns a notifier command (notify-send on Linux,
// terminal-notifier on macOS) per message. This keeps delivery policy
// (queueing, rate limiting, retry) centralized in the service while the
// sink stays a dumb transport.
//
// # History
//
// For debugging and operator visibility, the service keeps a small
// in-memory history of recently emitted notifications.
package notify
