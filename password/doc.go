// Package password hashes staff credentials with Argon2id and encodes
// them as PHC strings, so stored hashes carry their own cost parameters
// and can be upgraded transparently on login.
package password
