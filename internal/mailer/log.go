package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// LogPublisher writes messages to the log instead of a queue. Used in
// development when no broker is running.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.log.Info().
		Str("message_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("to", msg.To).
		Str("link", msg.Link).
		Msg("outbound email")
	return nil
}
