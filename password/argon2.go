package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

// ErrHashMalformed is returned when a stored hash cannot be parsed as a
// supported PHC string.
var ErrHashMalformed = errors.New("malformed password hash")

// Params are the Argon2id cost parameters used for new hashes.
type Params struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the cost parameters new hashes are minted with.
func DefaultParams() Params {
	return Params{
		MemoryKB:    64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Params) validate() error {
	if p.MemoryKB < minMemoryKB {
		return errors.New("password memory must be >= 8192 KB")
	}
	if p.Time < minTimeCost {
		return errors.New("password time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("password salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("password key length must be >= 16")
	}
	return nil
}

// Hasher mints and verifies Argon2id hashes in PHC string format.
type Hasher struct {
	params Params
}

func NewHasher(p Params) (*Hasher, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// Hash derives a new hash for the password with a fresh random salt.
// Password bytes are used exactly as provided, no normalization.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.params.Time,
		h.params.MemoryKB,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.MemoryKB,
		h.params.Time,
		h.params.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether the password matches the stored hash. The
// comparison is constant time over the derived key.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	parsed, err := parse(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memoryKB,
		parsed.parallelism,
		uint32(len(parsed.key)),
	)

	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsUpgrade reports whether the stored hash was minted with weaker
// cost parameters than the hasher's current ones.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	parsed, err := parse(encoded)
	if err != nil {
		return false, err
	}

	switch {
	case parsed.memoryKB < h.params.MemoryKB:
		return true, nil
	case parsed.time < h.params.Time:
		return true, nil
	case parsed.parallelism < h.params.Parallelism:
		return true, nil
	case uint32(len(parsed.key)) != h.params.KeyLength:
		return true, nil
	}
	return false, nil
}

type parsedHash struct {
	memoryKB    uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parse(encoded string) (*parsedHash, error) {
	rest, ok := strings.CutPrefix(encoded, "$"+algorithmID+"$")
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrHashMalformed)
	}

	versionPart, rest, ok := strings.Cut(rest, "$")
	if !ok {
		return nil, ErrHashMalformed
	}
	version, err := strconv.Atoi(strings.TrimPrefix(versionPart, "v="))
	if err != nil || !strings.HasPrefix(versionPart, "v=") {
		return nil, fmt.Errorf("%w: bad version field", ErrHashMalformed)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: argon2 version %d not supported", ErrHashMalformed, version)
	}

	paramPart, rest, ok := strings.Cut(rest, "$")
	if !ok {
		return nil, ErrHashMalformed
	}
	var parsed parsedHash
	if err := parseCostParams(paramPart, &parsed); err != nil {
		return nil, err
	}

	saltPart, keyPart, ok := strings.Cut(rest, "$")
	if !ok || strings.Contains(keyPart, "$") {
		return nil, ErrHashMalformed
	}

	parsed.salt, err = base64.StdEncoding.DecodeString(saltPart)
	if err != nil || len(parsed.salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: bad salt", ErrHashMalformed)
	}
	parsed.key, err = base64.StdEncoding.DecodeString(keyPart)
	if err != nil || len(parsed.key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrHashMalformed)
	}

	return &parsed, nil
}

func parseCostParams(part string, out *parsedHash) error {
	var seen int
	for _, pair := range strings.Split(part, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: bad parameter %q", ErrHashMalformed, pair)
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return fmt.Errorf("%w: bad memory parameter", ErrHashMalformed)
			}
			out.memoryKB = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return fmt.Errorf("%w: bad time parameter", ErrHashMalformed)
			}
			out.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return fmt.Errorf("%w: bad parallelism parameter", ErrHashMalformed)
			}
			out.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrHashMalformed, name)
		}
		seen++
	}
	if seen != 3 {
		return fmt.Errorf("%w: wrong parameter count", ErrHashMalformed)
	}
	return nil
}
