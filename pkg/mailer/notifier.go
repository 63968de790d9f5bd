package mailer

import (
	"context"
	"errors"

	"github.com/uiseongsang/test-code-with-architecture/pkg/helpers"
	mailtpl "github.com/uiseongsang/test-code-with-architecture/pkg/mailer/templates"
)

var ErrPublisherUnavailable = errors.New("mail queue publisher unavailable")

// QueueNotifier hands verification mails to RabbitMQ. The publish is the only
// work done in the request path; rendering and SMTP happen in the email
// worker, so broker or Mailgun latency never sits inside a user transaction.
type QueueNotifier struct {
	Pub            *helpers.RabbitPublisher
	VerifyEmailURL string
}

func NewQueueNotifier(pub *helpers.RabbitPublisher, verifyEmailURL string) *QueueNotifier {
	return &QueueNotifier{Pub: pub, VerifyEmailURL: verifyEmailURL}
}

// SendVerification enqueues the certification mail for a freshly created
// account.
func (n *QueueNotifier) SendVerification(ctx context.Context, email, certificationCode string) error {
	if n == nil || n.Pub == nil {
		return ErrPublisherUnavailable
	}
	job := EmailJob{
		To:       email,
		Template: mailtpl.VerifyEmail,
		Data: map[string]any{
			"Email":     email,
			"Code":      certificationCode,
			"VerifyURL": n.VerifyEmailURL,
		},
	}
	return n.Pub.PublishJSON(ctx, job)
}
