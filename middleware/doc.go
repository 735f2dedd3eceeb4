// Package middleware adapts HTTP requests to cafegate.Engine session
// validation. The guard reads the Authorization bearer token, validates
// it, refreshes the session's activity clock and injects the session
// into the request context.
//
// The package translates HTTP semantics into Engine calls only; it
// makes no access decisions of its own.
package middleware
