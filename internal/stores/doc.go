// Package stores holds the Redis-backed OTP challenge store. Records are
// binary-encoded and every read-modify-write runs inside a WATCH
// transaction so concurrent requests for the same phone number cannot
// interleave between the check and the act.
package stores
