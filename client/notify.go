package feast

import "github.com/rs/zerolog"

// Notifier is the opaque notification sink (the OS/browser notification
// surface in the original client). Delivery is best effort: implementations
// swallow their own failures, nothing propagates into the realtime pipeline.
type Notifier interface {
	Notify(title, body string)
}

// NopNotifier discards notifications; the default when permission was never
// granted.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}

// LogNotifier writes notifications to the log, useful for headless runs.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(title, body string) {
	n.Logger.Info().Str("title", title).Str("body", body).Msg("notification")
}
