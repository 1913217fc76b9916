// Package mailer provides email-delivery collaborators for portalauth.
//
// AMQPMailer publishes one JSON job per message to a RabbitMQ topic exchange
// and waits for the broker's publisher confirm, so a message the broker did
// not accept is reported as an error to the caller. A separate notification
// worker renders and sends the email.
//
// LogMailer writes jobs to a slog.Logger instead and is meant for local
// development.
package mailer
