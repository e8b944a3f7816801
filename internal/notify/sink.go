// Package notify delivers rendered reminder text to the single configured
// destination. Delivery is fire-and-forget: callers only learn whether the
// hand-off failed.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

type Sink interface {
	Send(ctx context.Context, text string) error
}

// SinkError records a failed delivery of one message.
type SinkError struct {
	MessageID string
	Err       error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("deliver message %s: %v", e.MessageID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// LogSink writes messages to the logger instead of delivering them.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink { return &LogSink{log: log} }

func (s *LogSink) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info().Str("sink", "log").Str("text", text).Msg("notification")
	return nil
}
