// Package rate implements the sliding-window rate limiter shared by the
// login-lockout and OTP-request-throttle policies. Attempt timestamps
// live in a per-identifier Redis sorted set; a separate lock key carries
// the hard cooldown for policies that have one. Both the check and the
// record paths run as single Lua scripts so concurrent attempts on the
// same identifier cannot interleave between pruning and counting.
package rate
