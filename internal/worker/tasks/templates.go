package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"consultancy/api/internal/mailer"
)

var ErrUnknownKind = errors.New("unknown mail kind")

type Email struct {
	To      string
	Subject string
	Body    string
}

type mailTemplate struct {
	subject string
	body    *template.Template
}

var templates = map[mailer.Kind]mailTemplate{
	mailer.KindVerifyEmail: {
		subject: "Confirm your email address",
		body: template.Must(template.New("verify").Parse(`Hello {{.Greeting}},

Please confirm your email address by opening the link below:

{{.Link}}

The link expires in 24 hours. If you did not create an account you can ignore this message.
`)),
	},
	mailer.KindPasswordReset: {
		subject: "Reset your password",
		body: template.Must(template.New("reset").Parse(`Hello {{.Greeting}},

We received a request to reset your password. Open the link below to choose a new one:

{{.Link}}

The link expires in one hour. If you did not ask for this, no action is needed.
`)),
	},
	mailer.KindPasswordChanged: {
		subject: "Your password was changed",
		body: template.Must(template.New("changed").Parse(`Hello {{.Greeting}},

The password for your account was just changed and every signed-in device has been logged out.

If this was not you, reset your password immediately and contact support.
`)),
	},
}

func Render(msg mailer.Message) (Email, error) {
	tpl, ok := templates[msg.Kind]
	if !ok {
		return Email{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}

	greeting := msg.Name
	if greeting == "" {
		greeting = "there"
	}

	var body bytes.Buffer
	if err := tpl.body.Execute(&body, struct {
		Greeting string
		Link     string
	}{greeting, msg.Link}); err != nil {
		return Email{}, fmt.Errorf("render %s: %w", msg.Kind, err)
	}

	return Email{
		To:      msg.To,
		Subject: tpl.subject,
		Body:    body.String(),
	}, nil
}
