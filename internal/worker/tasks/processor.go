package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"consultancy/api/internal/mailer"
)

// Processor turns queued mail messages into rendered emails and hands them
// to a Sender. Messages that can never succeed are logged and dropped so
// they do not circle back through the pending list forever.
type Processor struct {
	sender Sender
	logger zerolog.Logger
}

func NewProcessor(sender Sender, logger zerolog.Logger) *Processor {
	return &Processor{
		sender: sender,
		logger: logger,
	}
}

// Handle processes one Redis stream entry.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	decoded, err := mailer.FromStreamValues(msg.Values)
	if err != nil {
		p.logger.Warn().Err(err).Str("stream_id", msg.ID).Msg("dropping undecodable message")
		return nil
	}
	return p.Process(ctx, decoded)
}

// HandleDelivery processes one AMQP delivery body.
func (p *Processor) HandleDelivery(ctx context.Context, body []byte) error {
	decoded, err := mailer.Decode(body)
	if err != nil {
		p.logger.Warn().Err(err).Msg("dropping undecodable delivery")
		return nil
	}
	return p.Process(ctx, decoded)
}

func (p *Processor) Process(ctx context.Context, msg mailer.Message) error {
	email, err := Render(msg)
	if errors.Is(err, ErrUnknownKind) {
		p.logger.Warn().Str("kind", string(msg.Kind)).Str("message_id", msg.ID).Msg("unknown mail kind")
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.sender.Send(ctx, email); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Kind, msg.To, err)
	}
	p.logger.Info().
		Str("message_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Msg("email delivered")
	return nil
}
