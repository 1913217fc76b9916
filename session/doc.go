// Package session provides the authoritative server-side session store: an
// opaque, high-entropy identifier mapped to a user ID with an absolute expiry.
//
// # Storage layout
//
// Records live in Redis under <prefix>:<sha256(id)> as a compact binary blob
// (see [Encode]). The plaintext identifier is never written to Redis, so a
// dump of the store cannot be replayed as cookies. A per-user set
// <prefix>u:<userID> indexes live records for bulk revocation.
//
// # Expiry
//
// Sessions are never extended. The Redis TTL and the encoded ExpiresAt are
// both set at creation; Resolve checks ExpiresAt at read time so a record that
// outlives its TTL (clock skew, persistence restore) is still rejected.
//
// # What this package must NOT do
//
//   - Import portalauth or permission.
//   - Make authorization decisions.
package session
