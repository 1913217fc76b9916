package portalauth

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/portalauth/internal/audit"
)

// AuditEvent is one security-relevant occurrence emitted by the Engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the Engine's async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards events.
type NoOpSink = internalaudit.NoOpSink

// NewChannelSink buffers events in a channel, useful in tests.
func NewChannelSink(buffer int) *internalaudit.ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) *internalaudit.JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink logs each event through logger.
func NewSlogSink(logger *slog.Logger) *internalaudit.SlogSink {
	return internalaudit.NewSlogSink(logger)
}
