package email

import "context"

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Subject     string
	Text        string
	Attachments []Attachment
}

// Provider delivers transactional mail. Sends are fire-and-forget for callers:
// a returned error is logged, never retried here.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
