// Package middleware adapts portalauth sessions to net/http.
//
// [RequireSession] reads the session cookie, resolves it through the engine
// and attaches the user and session identifier to the request context.
// [RequireAction] checks the attached user's authority for one action.
// [ClientIP] records the caller address for login throttling and audit.
//
// Authentication decisions are delegated to the engine. This package only
// translates them into HTTP responses.
package middleware
