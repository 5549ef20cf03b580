package monitor

// AlertSink is a pluggable alert delivery target (log, webhook, chat).
type AlertSink interface {
	Send(a Alert) error
}

// SinkFunc adapts a function to AlertSink.
type SinkFunc func(a Alert) error

func (f SinkFunc) Send(a Alert) error { return f(a) }
