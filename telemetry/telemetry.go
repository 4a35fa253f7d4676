// Package telemetry defines a sink interface for operational events.
// Named as an external collaborator in spec §2 ("telemetry sink"); the
// real backend (metrics warehouse, OTLP exporter, etc.) lives outside this
// module. LogSink, adapted from the teacher's streaming.LogPublisher, is
// the only concrete implementation shipped here. No hub component holds a
// Sink or publishes to one.
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Event is one telemetry record.
type Event struct {
	Topic     string
	Payload   interface{}
	Timestamp time.Time
}

// Sink publishes telemetry events. Implementations must not block the
// caller meaningfully — the hub treats publish failures as non-fatal.
type Sink interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}

// LogSink writes every event to the standard logger. It exists for local
// runs and tests; a production deployment supplies a real Sink.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink returns a Sink that logs via log.Default().
func NewLogSink() *LogSink {
	return &LogSink{logger: log.Default()}
}

func (s *LogSink) Publish(_ context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.logger.Printf("Telemetry: %s %s", topic, string(data))
	return nil
}

func (s *LogSink) Close() error {
	s.logger.Println("Telemetry: sink closed")
	return nil
}
