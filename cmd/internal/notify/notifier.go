// Package notify is the outbound notification sink used for observability.
//
// Publishing is fire-and-forget: it must never block or fail the caller's
// operation. Failures inside a sink are its own problem to log.
package notify

import "log/slog"

// Notifier accepts domain notifications as (topic, payload) pairs.
type Notifier interface {
	Publish(topic string, payload map[string]any)
}

// SlogNotifier logs every notification as a structured event.
type SlogNotifier struct {
	log *slog.Logger
}

// NewSlogNotifier constructs a Notifier backed by the given logger.
func NewSlogNotifier(log *slog.Logger) *SlogNotifier {
	return &SlogNotifier{log: log}
}

// Publish logs the notification under its topic.
func (n *SlogNotifier) Publish(topic string, payload map[string]any) {
	if n == nil || n.log == nil {
		return
	}
	attrs := make([]any, 0, 2*len(payload))
	for k, v := range payload {
		attrs = append(attrs, k, v)
	}
	n.log.Info("notify."+topic, attrs...)
}

// Nop discards all notifications. Useful in tests.
type Nop struct{}

// Publish discards the notification.
func (Nop) Publish(string, map[string]any) {}
