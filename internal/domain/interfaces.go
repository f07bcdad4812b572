package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Notifier delivers user-facing messages. Implementations must not let a
// delivery failure reach the caller's outcome; Notify errors are logged by
// callers and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, userID string, kind NotificationKind, params map[string]string) error
}
