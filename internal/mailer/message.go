package mailer

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindVerifyEmail     Kind = "verify_email"
	KindPasswordReset   Kind = "password_reset"
	KindPasswordChanged Kind = "password_changed"
)

// Message is the unit placed on the outbound queue. The worker renders the
// body; the API only decides who gets what.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to"`
	Name      string    `json:"name"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const payloadField = "payload"

// StreamValues encodes msg for XADD.
func StreamValues(msg Message) (map[string]any, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode mail message: %w", err)
	}
	return map[string]any{
		"kind":       string(msg.Kind),
		payloadField: string(body),
	}, nil
}

// FromStreamValues is the inverse of StreamValues.
func FromStreamValues(values map[string]any) (Message, error) {
	raw, ok := values[payloadField]
	if !ok {
		return Message{}, fmt.Errorf("mail message has no %s field", payloadField)
	}
	text, ok := raw.(string)
	if !ok {
		return Message{}, fmt.Errorf("mail message %s field is %T", payloadField, raw)
	}
	return Decode([]byte(text))
}

func Decode(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("decode mail message: %w", err)
	}
	if msg.To == "" || msg.Kind == "" {
		return Message{}, fmt.Errorf("mail message %q is missing recipient or kind", msg.ID)
	}
	return msg, nil
}
