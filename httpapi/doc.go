// Package httpapi exposes the portal's identity and team operations as a JSON
// HTTP API on a chi router.
//
// Sessions travel in the portal_sid cookie. Expected failures render as
// {"error":{"kind":...,"message":...}} with a stable status per kind, and
// infrastructure failures render a generic 500.
package httpapi
