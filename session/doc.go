// Package session stores opaque bearer sessions in Redis.
//
// A session record carries account identity, role and two clocks: an
// absolute expiry baked into the key TTL and a last-activity timestamp
// updated on each successful validation. A per-account sorted set keyed
// by last activity supports concurrent-session caps and bulk logout.
package session
