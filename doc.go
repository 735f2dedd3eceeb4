// Package cafegate is an access-control engine for point-of-sale
// deployments: staff sign in with username and password, customers with
// a phone-delivered one-time passcode, and both end up holding an
// opaque bearer session token.
//
// The engine is a library, not a service. It owns no HTTP surface and
// no account database; callers supply account lookups through the
// StaffProvider and CustomerProvider interfaces and outbound code
// delivery through a dispatch.Sender. All shared mutable state
// (sessions, OTP challenges, rate-limit counters) lives in Redis, so
// any number of engine instances can serve the same fleet of tills.
//
// Construction goes through the Builder:
//
//	engine, err := cafegate.New().
//		WithRedis(client).
//		WithStaffProvider(staff).
//		WithCustomerProvider(customers).
//		WithSender(sms).
//		Build()
//
// Sessions carry two clocks: an absolute expiry (8 hours, or 7 days
// with remember-me) and a 30 minute inactivity bound that remember-me
// sessions are exempt from. Concurrent sessions are capped per role,
// newest preserved. Failed logins are counted in a sliding window and
// lock the caller out after the fifth attempt in 15 minutes; the
// limiter fails open when Redis is unreachable, while session and
// credential paths fail closed.
package cafegate
