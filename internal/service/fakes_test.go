package service

import (
	"context"
	"sync"
	"time"
)

type sentMail struct {
	Kind  string
	To    string
	Token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) record(kind, to, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{Kind: kind, To: to, Token: token})
}

func (f *fakeMailer) SendVerification(_ context.Context, to string, _ string, token string) {
	f.record("verify", to, token)
}

func (f *fakeMailer) SendPasswordReset(_ context.Context, to string, _ string, token string) {
	f.record("reset", to, token)
}

func (f *fakeMailer) SendPasswordChanged(_ context.Context, to string, _ string) {
	f.record("changed", to, "")
}

func (f *fakeMailer) last(kind string) (sentMail, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Kind == kind {
			return f.sent[i], true
		}
	}
	return sentMail{}, false
}

type memExporter struct {
	objects map[string][]byte
}

func (e *memExporter) PutExport(_ context.Context, key string, body []byte) (string, time.Time, error) {
	if e.objects == nil {
		e.objects = make(map[string][]byte)
	}
	e.objects[key] = body
	return "https://exports.test/" + key, time.Now().Add(15 * time.Minute), nil
}
