package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/uiseongsang/test-code-with-architecture/config"
	"github.com/uiseongsang/test-code-with-architecture/pkg/mailer"
	mailtpl "github.com/uiseongsang/test-code-with-architecture/pkg/mailer/templates"
)

const (
	attemptsHeader  = "x-attempts"
	maxSendAttempts = 5
)

// attemptCount reads the delivery attempt number from the message headers.
// First deliveries carry no header and count as attempt 1. The broker hands
// header integers back in whatever width they were encoded with.
func attemptCount(h amqp.Table) int {
	v, ok := h[attemptsHeader]
	if !ok {
		return 1
	}
	switch n := v.(type) {
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	return 1
}

func main() {
	cfg := config.Load()
	if !cfg.MailSendEnabled {
		log.Println("MAIL_SEND_ENABLED=false; email worker disabled (no real emails will be sent)")
		return
	}
	if cfg.RabbitMQURL == "" || cfg.RabbitMQEmailQueue == "" {
		log.Fatal("RabbitMQ not configured")
	}
	if cfg.MailgunDomain == "" || cfg.MailgunAPIKey == "" || cfg.MailgunSender == "" {
		log.Fatal("Mailgun not configured")
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("amqp dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("amqp channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	// Prefetch for fair dispatch
	if err := ch.Qos(16, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	if _, err := ch.QueueDeclare(cfg.RabbitMQEmailQueue, true, false, false, false, nil); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitMQEmailQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	mg := mailer.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey, cfg.MailgunSender)
	ctx := context.Background()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for msg := range msgs {
			var job mailer.EmailJob
			if err := json.Unmarshal(msg.Body, &job); err != nil {
				log.Printf("bad message: %v", err)
				_ = msg.Nack(false, false)
				continue
			}
			if job.To == "" {
				log.Printf("message without recipient dropped")
				_ = msg.Nack(false, false)
				continue
			}

			subject := job.Subject
			text := job.Text
			html := job.HTML

			if job.Template != "" {
				s, t, h, rerr := mailtpl.Render(job.Template, job.Data)
				if rerr != nil {
					log.Printf("render %s failed: %v", job.Template, rerr)
					_ = msg.Nack(false, false)
					continue
				}
				subject, text, html = s, t, h
			}

			c, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := mg.Send(c, job.To, subject, text, html); err != nil {
				cancel()
				attempt := attemptCount(msg.Headers)
				if attempt >= maxSendAttempts {
					log.Printf("send failed on attempt %d/%d, dropping: %v", attempt, maxSendAttempts, err)
					_ = msg.Nack(false, false)
					continue
				}
				log.Printf("send failed on attempt %d/%d, requeueing: %v", attempt, maxSendAttempts, err)
				// Republish with the counter bumped; a broker-side requeue
				// would come back with the same headers and retry forever.
				pc, pcancel := context.WithTimeout(ctx, 5*time.Second)
				perr := ch.PublishWithContext(pc, "", cfg.RabbitMQEmailQueue, false, false, amqp.Publishing{
					ContentType:  msg.ContentType,
					DeliveryMode: amqp.Persistent,
					Headers:      amqp.Table{attemptsHeader: int32(attempt + 1)},
					Body:         msg.Body,
				})
				pcancel()
				if perr != nil {
					log.Printf("requeue publish failed: %v", perr)
					_ = msg.Nack(false, true)
					continue
				}
				_ = msg.Ack(false)
				continue
			}
			cancel()
			_ = msg.Ack(false)
		}
		close(done)
	}()

	log.Printf("email worker listening on queue=%s", cfg.RabbitMQEmailQueue)
	<-stop
	log.Printf("shutting down...")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}
