package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// sessionTokenSize is the entropy of a session token in bytes. 32 bytes
// gives 256 bits, rendered as 43 base64url characters with no structure
// a client could parse or forge.
const sessionTokenSize = 32

// NewSessionToken returns an opaque high-entropy session token.
func NewSessionToken() (string, error) {
	var raw [sessionTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewOTPCode returns a numeric one-time code of exactly the given number
// of digits. Leading zeros are preserved: "042183" is a valid 6-digit code.
func NewOTPCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// HashOTPCode returns the SHA-256 digest stored in place of an OTP code.
// Only the hash ever reaches the challenge store.
func HashOTPCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// OTPHashEqual compares two code hashes in constant time.
func OTPHashEqual(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
