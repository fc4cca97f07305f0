package goIdentity

import (
	"io"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdentity/internal/audit"
)

// AuditEvent is one security-relevant decision.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

type NoOpSink = audit.NoOpSink

// NewChannelSink returns a sink that buffers events on a channel, mostly
// useful in tests.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink logs events at Info on l.
func NewZapSink(l *zap.Logger) *audit.ZapSink {
	return audit.NewZapSink(l)
}
