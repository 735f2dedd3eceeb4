package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poscore/cafegate/internal"
)

const otpRecordVersion1 = 1

const txMaxRetries = 4

var (
	ErrChallengeNotFound          = errors.New("otp challenge not found")
	ErrChallengeExpired           = errors.New("otp challenge expired")
	ErrChallengeAlreadyUsed       = errors.New("otp challenge already used")
	ErrChallengeAttemptsExhausted = errors.New("otp challenge attempts exhausted")
	ErrChallengeResendLimit       = errors.New("otp challenge resend limit exceeded")
	ErrChallengePhoneMismatch     = errors.New("otp challenge phone mismatch")
	ErrChallengeCodeMismatch      = errors.New("otp code mismatch")
	ErrChallengeBackend           = errors.New("otp challenge backend unavailable")
)

// ChallengeState is the explicit lifecycle state of an OTP challenge.
// Scattered boolean checks are collapsed into one tagged value so callers
// reason about transitions, not flag combinations.
type ChallengeState uint8

const (
	StateRequested ChallengeState = iota
	StateVerified
	StateExpired
	StateExhausted
)

func (s ChallengeState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateVerified:
		return "verified"
	case StateExpired:
		return "expired"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// OTPChallenge is one phone-bound one-time-code challenge. Only the
// SHA-256 hash of the current code is ever stored.
type OTPChallenge struct {
	ID          string
	PhoneNumber string
	CodeHash    [32]byte
	CreatedAt   int64
	ExpiresAt   int64
	Verified    bool
	VerifiedAt  int64
	Attempts    uint16
	ResendCount uint16
}

// State derives the lifecycle state at the given instant.
func (c *OTPChallenge) State(now time.Time, maxAttempts int) ChallengeState {
	switch {
	case c.Verified:
		return StateVerified
	case now.Unix() > c.ExpiresAt:
		return StateExpired
	case int(c.Attempts) >= maxAttempts:
		return StateExhausted
	default:
		return StateRequested
	}
}

// OTPStore persists challenges in Redis. One phone number has at most one
// active challenge: the per-phone index key points at the current
// challenge id, and replacing it deletes the prior record in the same
// transaction.
type OTPStore struct {
	redis  redis.UniversalClient
	prefix string

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "otp"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *OTPStore) key(challengeID string) string {
	return s.prefix + ":c:" + challengeID
}

func (s *OTPStore) phoneKey(phone string) string {
	return s.prefix + ":p:" + phone
}

// Put stores a fresh challenge and atomically invalidates any prior
// active challenge for the same phone number. Returns the id of the
// replaced challenge, if there was one.
func (s *OTPStore) Put(ctx context.Context, record *OTPChallenge, ttl time.Duration) (string, error) {
	encoded, err := encodeOTPChallenge(record)
	if err != nil {
		return "", err
	}

	phoneKey := s.phoneKey(record.PhoneNumber)
	var replaced string

	for i := 0; i < txMaxRetries; i++ {
		replaced = ""
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prior, err := tx.Get(ctx, phoneKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && prior != "" && prior != record.ID {
				replaced = prior
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if replaced != "" {
					pipe.Del(ctx, s.key(replaced))
				}
				pipe.Set(ctx, s.key(record.ID), encoded, ttl)
				pipe.Set(ctx, phoneKey, record.ID, ttl)
				return nil
			})
			return err
		}, phoneKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return replaced, nil
	}

	return "", fmt.Errorf("%w: transaction contention", ErrChallengeBackend)
}

// Get loads a challenge without mutating it. Expired records are treated
// as gone.
func (s *OTPStore) Get(ctx context.Context, challengeID string) (*OTPChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeOTPChallenge(data)
	if err != nil {
		return nil, err
	}
	record.ID = challengeID

	if !record.Verified && s.now().Unix() > record.ExpiresAt {
		return nil, ErrChallengeExpired
	}
	return record, nil
}

// Rotate replaces the code of an existing challenge: a resend is a fresh
// chance, so the attempt counter resets and the expiry timer restarts.
// The resend counter is the one thing that survives the rotation.
func (s *OTPStore) Rotate(
	ctx context.Context,
	challengeID string,
	newCodeHash [32]byte,
	ttl time.Duration,
	maxResends int,
) (*OTPChallenge, error) {
	key := s.key(challengeID)
	var rotated *OTPChallenge

	for i := 0; i < txMaxRetries; i++ {
		rotated = nil
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPChallenge(data)
			if err != nil {
				return err
			}
			record.ID = challengeID

			now := s.now()
			if record.Verified {
				return ErrChallengeAlreadyUsed
			}
			if now.Unix() > record.ExpiresAt {
				_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if derr != nil {
					return derr
				}
				return ErrChallengeExpired
			}
			if int(record.ResendCount) >= maxResends {
				return ErrChallengeResendLimit
			}

			record.CodeHash = newCodeHash
			record.Attempts = 0
			record.ResendCount++
			record.ExpiresAt = now.Add(ttl).Unix()

			encoded, err := encodeOTPChallenge(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				pipe.Set(ctx, s.phoneKey(record.PhoneNumber), challengeID, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			rotated = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeAlreadyUsed) ||
				errors.Is(err, ErrChallengeExpired) ||
				errors.Is(err, ErrChallengeResendLimit) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return rotated, nil
	}

	return nil, fmt.Errorf("%w: transaction contention", ErrChallengeBackend)
}

// Consume verifies a supplied code hash against the challenge. On match
// the challenge flips to verified (kept until natural expiry so a replay
// surfaces as AlreadyUsed) and its phone index entry is removed. On
// mismatch the attempt counter advances and the remaining count is
// returned alongside ErrChallengeCodeMismatch.
func (s *OTPStore) Consume(
	ctx context.Context,
	challengeID, phone string,
	providedHash [32]byte,
	maxAttempts int,
) (*OTPChallenge, int, error) {
	key := s.key(challengeID)
	var (
		consumed  *OTPChallenge
		remaining int
	)

	for i := 0; i < txMaxRetries; i++ {
		consumed = nil
		remaining = 0
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPChallenge(data)
			if err != nil {
				return err
			}
			record.ID = challengeID

			now := s.now()
			switch record.State(now, maxAttempts) {
			case StateVerified:
				return ErrChallengeAlreadyUsed
			case StateExpired:
				_, derr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.Del(ctx, s.phoneKey(record.PhoneNumber))
					return nil
				})
				if derr != nil {
					return derr
				}
				return ErrChallengeExpired
			case StateExhausted:
				return ErrChallengeAttemptsExhausted
			}

			if record.PhoneNumber != phone {
				return ErrChallengePhoneMismatch
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				ttl = time.Second
			}

			if !internal.OTPHashEqual(record.CodeHash, providedHash) {
				record.Attempts++
				remaining = maxAttempts - int(record.Attempts)
				if remaining < 0 {
					remaining = 0
				}

				encoded, eerr := encodeOTPChallenge(record)
				if eerr != nil {
					return eerr
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, encoded, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeCodeMismatch
			}

			record.Verified = true
			record.VerifiedAt = now.Unix()

			encoded, err := encodeOTPChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				pipe.Del(ctx, s.phoneKey(record.PhoneNumber))
				return nil
			})
			if err != nil {
				return err
			}
			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, 0, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeAlreadyUsed) ||
				errors.Is(err, ErrChallengeExpired) ||
				errors.Is(err, ErrChallengeAttemptsExhausted) ||
				errors.Is(err, ErrChallengePhoneMismatch) {
				return nil, 0, err
			}
			if errors.Is(err, ErrChallengeCodeMismatch) {
				return nil, remaining, err
			}
			return nil, 0, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return consumed, maxAttempts - int(consumed.Attempts), nil
	}

	return nil, 0, fmt.Errorf("%w: transaction contention", ErrChallengeBackend)
}

// ActiveChallengeID returns the id of the phone's current active
// challenge, or empty when none exists.
func (s *OTPStore) ActiveChallengeID(ctx context.Context, phone string) (string, error) {
	id, err := s.redis.Get(ctx, s.phoneKey(phone)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return id, nil
}

func encodeOTPChallenge(record *OTPChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(otpRecordVersion1)

	var flags byte
	if record.Verified {
		flags |= 1
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ResendCount); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.VerifiedAt); err != nil {
		return nil, err
	}

	if len(record.PhoneNumber) > 255 {
		return nil, errors.New("otp challenge phone number too long")
	}
	buf.WriteByte(byte(len(record.PhoneNumber)))
	buf.WriteString(record.PhoneNumber)
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeOTPChallenge(data []byte) (*OTPChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersion1 {
		return nil, errors.New("invalid otp challenge version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &OTPChallenge{
		Verified: flags&1 != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ResendCount); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.VerifiedAt); err != nil {
		return nil, err
	}

	phoneLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	phone := make([]byte, phoneLen)
	if _, err := io.ReadFull(reader, phone); err != nil {
		return nil, err
	}
	record.PhoneNumber = string(phone)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
