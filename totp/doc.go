// Package totp implements the stateless half of two-factor authentication:
// shared-secret generation, otpauth:// provisioning URIs, QR rendering,
// RFC 6238 code verification with a sliding window, and sealing of secrets
// at rest.
//
// Binding a secret to a user is the engine's job. Nothing here persists state.
package totp
