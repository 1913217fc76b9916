// Package portalauth is the identity and access core of the energy-program
// portal: registration with email verification, password login with an
// optional TOTP second factor, opaque Redis sessions, password reset, and
// group membership (invitations, ownership transfer, permission levels).
//
// Engine methods are safe for concurrent use after [Builder.Build]. Expected
// outcomes are sentinel errors classified by [KindOf]; anything without a kind
// is an infrastructure failure.
//
// # Architecture boundaries
//
// portalauth owns the flows. Persistence sits behind [Store] (store/memory,
// store/postgres), email behind [Mailer] (mailer), and HTTP in httpapi and
// middleware. Password hashing, TOTP, sessions and the role model live in
// their own packages and never import this one.
//
// # What this package must NOT do
//
//   - Expose session identifiers in audit events or logs.
//   - Return password hashes, token hashes or TOTP secrets through [PublicUser].
//   - Import any sub-package that re-imports portalauth.
package portalauth
