package mailer

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"consultancy/api/internal/ids"
)

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Mailer enqueues account emails. Delivery problems never reach the caller:
// a failed enqueue is logged and the request carries on.
type Mailer struct {
	publisher Publisher
	baseURL   string
	timeout   time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func New(publisher Publisher, baseURL string, log zerolog.Logger) *Mailer {
	return &Mailer{
		publisher: publisher,
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   3 * time.Second,
		log:       log,
		now:       time.Now,
	}
}

func (m *Mailer) SendVerification(ctx context.Context, to string, name string, token string) {
	m.enqueue(ctx, Message{
		Kind: KindVerifyEmail,
		To:   to,
		Name: name,
		Link: m.link("/verify-email", token),
	})
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to string, name string, token string) {
	m.enqueue(ctx, Message{
		Kind: KindPasswordReset,
		To:   to,
		Name: name,
		Link: m.link("/reset-password", token),
	})
}

func (m *Mailer) SendPasswordChanged(ctx context.Context, to string, name string) {
	m.enqueue(ctx, Message{
		Kind: KindPasswordChanged,
		To:   to,
		Name: name,
	})
}

func (m *Mailer) enqueue(ctx context.Context, msg Message) {
	msg.ID = ids.New()
	msg.CreatedAt = m.now().UTC()

	// the request may finish before the broker answers
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	if err := m.publisher.Publish(ctx, msg); err != nil {
		m.log.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("kind", string(msg.Kind)).
			Msg("enqueue email failed")
		return
	}
	m.log.Debug().Str("message_id", msg.ID).Str("kind", string(msg.Kind)).Msg("email enqueued")
}

func (m *Mailer) link(path string, token string) string {
	return m.baseURL + path + "?token=" + url.QueryEscape(token)
}
