package mailer

import (
	"net/url"
	"strings"
	"time"
)

// Kind identifies the template a job renders.
type Kind string

const (
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
	KindInvitation        Kind = "invitation"
)

// RoutingKey is the topic routing key for k.
func (k Kind) RoutingKey() string {
	return "auth.email." + string(k)
}

// Job is the message body consumed by the notification worker.
type Job struct {
	Kind      Kind       `json:"kind"`
	To        string     `json:"to"`
	Name      string     `json:"name,omitempty"`
	Code      string     `json:"code,omitempty"`
	Token     string     `json:"token,omitempty"`
	Link      string     `json:"link,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Links builds the portal URLs embedded in jobs. A zero Links leaves Link
// empty.
type Links struct {
	BaseURL string
}

func (l Links) build(path string, query url.Values) string {
	base := strings.TrimRight(strings.TrimSpace(l.BaseURL), "/")
	if base == "" {
		return ""
	}
	return base + path + "?" + query.Encode()
}

func (l Links) verification(email string) string {
	return l.build("/verify-email", url.Values{"email": {email}})
}

func (l Links) passwordReset(email, token string) string {
	return l.build("/reset-password", url.Values{"email": {email}, "token": {token}})
}

func (l Links) invitation(token string) string {
	return l.build("/accept-invitation", url.Values{"token": {token}})
}

func verificationJob(links Links, email, name, code string, now time.Time) Job {
	return Job{
		Kind:      KindEmailVerification,
		To:        email,
		Name:      name,
		Code:      code,
		Link:      links.verification(email),
		CreatedAt: now,
	}
}

func passwordResetJob(links Links, email, token string, now time.Time) Job {
	return Job{
		Kind:      KindPasswordReset,
		To:        email,
		Token:     token,
		Link:      links.passwordReset(email, token),
		CreatedAt: now,
	}
}

func invitationJob(links Links, email, inviterName, token string, expiresAt, now time.Time) Job {
	exp := expiresAt
	return Job{
		Kind:      KindInvitation,
		To:        email,
		Name:      inviterName,
		Token:     token,
		Link:      links.invitation(token),
		ExpiresAt: &exp,
		CreatedAt: now,
	}
}
