// Package permission is the access control model for the portal: the closed
// role and permission-level taxonomy, the fixed authority table mapping each
// (role, level) pair to a set of actions, and pure planners for the group
// transitions (ownership transfer, permission-level change, invitation grant,
// member removal).
//
// # Totality
//
// Every predicate is a total function of (role, level). Unknown or legacy
// values never panic and never elevate: they resolve to the viewer action set.
//
// # Families
//
// Roles belong to exactly one family (system, company, contractor). Authority
// is ordered only within a family; [Outranks] refuses to compare across
// families.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import portalauth or session.
//   - Mutate anything. Planners return the new member states and the caller
//     persists them atomically.
package permission
