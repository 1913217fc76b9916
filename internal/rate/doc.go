// Package rate provides Redis-backed fixed-window counters used to throttle
// failed logins.
//
// # Window semantics
//
// INCR + EXPIRE on first hit. Key prefixes:
//   - <prefix>:lu: login failures per normalized email
//   - <prefix>:li: login failures per client IP
//
// Emails are hashed before use in keys so Redis never holds the address.
//
// # What this package must NOT do
//
//   - Decide what counts as a failure. The engine calls Fail/Reset.
//   - Be imported outside the portalauth module.
package rate
