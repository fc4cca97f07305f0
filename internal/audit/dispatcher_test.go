package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type gateSink struct {
	gate chan struct{}
	seen chan Event
}

func (s *gateSink) Emit(_ context.Context, e Event) {
	<-s.gate
	s.seen <- e
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	require.Nil(t, d)

	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	d.Emit(context.Background(), Event{EventType: "login_success"})
	d.Emit(context.Background(), Event{EventType: "logout_all"})
	d.Close()

	first := <-sink.Events()
	second := <-sink.Events()
	assert.Equal(t, "login_success", first.EventType)
	assert.Equal(t, "logout_all", second.EventType)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{}), seen: make(chan Event, 16)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// One event is held by the sink, one sits in the buffer, the rest drop.
	for i := 0; i < 6; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, d.Dropped(), uint64(3))

	close(sink.gate)
	d.Close()
}

type panicSink struct{ seen chan Event }

func (s panicSink) Emit(_ context.Context, e Event) {
	if e.EventType == "boom" {
		panic("sink failure")
	}
	s.seen <- e
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	sink := panicSink{seen: make(chan Event, 4)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, Logger: zap.New(core)}, sink)

	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "after"})
	d.Close()

	assert.Equal(t, uint64(1), d.Failed())
	assert.Equal(t, "after", (<-sink.seen).EventType)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["event_type"])
}

func TestDispatcherEmitAfterCloseIsIgnored(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Close()
	d.Close()

	d.Emit(context.Background(), Event{EventType: "late"})
	assert.Zero(t, d.Dropped())
	assert.Empty(t, sink.Events())
}

func TestDispatcherBlockingEmitHonorsContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{}), seen: make(chan Event, 4)}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	d.Emit(context.Background(), Event{EventType: "held"})
	time.Sleep(5 * time.Millisecond)
	d.Emit(context.Background(), Event{EventType: "buffered"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "late"})
	assert.Equal(t, uint64(1), d.Dropped())

	close(sink.gate)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "mfa_success", IdentityID: "id-1", Success: true})

	var got Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got))
	assert.Equal(t, "mfa_success", got.EventType)
	assert.Equal(t, "id-1", got.IdentityID)
	assert.True(t, got.Success)
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true})
	sink.Emit(context.Background(), Event{EventType: "login_failure", Error: "invalid_credentials"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "invalid_credentials", entries[1].ContextMap()["error"])
}
