package mailer

import (
	"context"
	"log/slog"
	"time"
)

// LogMailer logs jobs instead of sending them. Codes and tokens appear in the
// log, so it must not be used in production.
type LogMailer struct {
	logger *slog.Logger
	links  Links
	now    func() time.Time
}

// NewLogMailer returns a LogMailer writing to logger, or slog.Default when nil.
func NewLogMailer(logger *slog.Logger, links Links) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{
		logger: logger.With("component", "mailer"),
		links:  links,
		now:    time.Now,
	}
}

func (m *LogMailer) SendEmailVerification(ctx context.Context, email, name, code string) error {
	m.log(ctx, verificationJob(m.links, email, name, code, m.now()))
	return nil
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, email, token string) error {
	m.log(ctx, passwordResetJob(m.links, email, token, m.now()))
	return nil
}

func (m *LogMailer) SendInvitation(ctx context.Context, email, inviterName, token string, expiresAt time.Time) error {
	m.log(ctx, invitationJob(m.links, email, inviterName, token, expiresAt, m.now()))
	return nil
}

func (m *LogMailer) log(ctx context.Context, job Job) {
	attrs := []any{"kind", string(job.Kind), "to", job.To}
	if job.Code != "" {
		attrs = append(attrs, "code", job.Code)
	}
	if job.Token != "" {
		attrs = append(attrs, "token", job.Token)
	}
	if job.Link != "" {
		attrs = append(attrs, "link", job.Link)
	}
	if job.ExpiresAt != nil {
		attrs = append(attrs, "expires_at", job.ExpiresAt.UTC().Format(time.RFC3339))
	}
	m.logger.InfoContext(ctx, "email job", attrs...)
}
