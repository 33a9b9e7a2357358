// Package notify fans processing outcomes out to interested sinks.
// Delivery is fire and forget: a broken sink never fails a job.
package notify

import (
	"context"
	"log/slog"
)

// Event is one processing outcome worth telling someone about.
type Event struct {
	Kind   string // "processed" or "failed"
	Title  string
	Detail string
}

// Sink receives processing events.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

// Notifier delivers events to all registered sinks.
type Notifier struct {
	sinks []Sink
}

// NewNotifier creates a notifier over the given sinks.
func NewNotifier(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// Processed announces a successful import.
func (n *Notifier) Processed(ctx context.Context, title, detail string) {
	n.send(ctx, Event{Kind: "processed", Title: title, Detail: detail})
}

// Failed announces a failed job.
func (n *Notifier) Failed(ctx context.Context, title, detail string) {
	n.send(ctx, Event{Kind: "failed", Title: title, Detail: detail})
}

func (n *Notifier) send(ctx context.Context, ev Event) {
	for _, s := range n.sinks {
		s.Notify(ctx, ev)
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink that logs events.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log.With("component", "notify")}
}

// Notify implements Sink.
func (s *LogSink) Notify(ctx context.Context, ev Event) {
	switch ev.Kind {
	case "failed":
		s.log.Warn("processing failed", "title", ev.Title, "detail", ev.Detail)
	default:
		s.log.Info("processing complete", "title", ev.Title, "detail", ev.Detail)
	}
}
