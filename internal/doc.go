// Package internal holds helpers shared by the cafegate engine that are
// not part of the public API: token and OTP generation, and code hashing.
package internal
