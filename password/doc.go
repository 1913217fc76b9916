// Package password implements salted scrypt hashing, constant-time verification,
// and the portal password policy.
//
// # Output format
//
// Hashes are encoded in a PHC-style string so cost parameters travel with the
// hash:
//
//	$scrypt$ln=<log2 N>,r=<block size>,p=<parallelism>$<salt>$<key>
//
// [Hasher.NeedsUpgrade] reports whether a stored hash was produced with a
// weaker cost than the current configuration.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other portalauth package.
//   - Log plaintext passwords.
package password
