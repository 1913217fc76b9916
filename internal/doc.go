// Package internal holds the token issuer shared by the engine and the session
// store: session identifiers, numeric codes, opaque URL tokens and their
// at-rest hashes.
//
// # What this package must NOT do
//
//   - Import any portalauth package.
//   - Persist anything. Callers own storage and expiry.
package internal
