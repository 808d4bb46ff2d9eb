package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/resend/resend-go/v2"
)

var ErrEmailNotConfigured = errors.New("email service not configured (missing RESEND_API_KEY)")

// emailSender is the part of the Resend client the service uses.
type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

type EmailService struct {
	sender    emailSender
	fromEmail string
	appName   string
	isDev     bool
}

func NewEmailService(apiKey, fromEmail, appName string, isDev bool) *EmailService {
	s := &EmailService{
		fromEmail: fromEmail,
		appName:   appName,
		isDev:     isDev,
	}
	if apiKey != "" && !isDev {
		s.sender = resend.NewClient(apiKey).Emails
	}
	return s
}

// SendShareLink mails a share link. In development the message is only logged.
func (s *EmailService) SendShareLink(ctx context.Context, to, fileName, shareURL string, expiresAt time.Time) error {
	subject, body := shareLinkEmailTemplate(fileName, shareURL, expiresAt, s.appName)

	if s.isDev {
		slog.Info("email sent (dev mode)", "type", "share_link", "to", to, "subject", subject, "url", shareURL)
		return nil
	}

	if s.sender == nil {
		return ErrEmailNotConfigured
	}

	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}

	_, err := s.sender.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Info("email sent", "type", "share_link", "to", to)
	return nil
}
