package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionNotFound is returned when no record exists for a token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrBackendUnavailable wraps Redis failures. Session operations fail
	// closed on it; the engine never grants access on backend trouble.
	ErrBackendUnavailable = errors.New("session backend unavailable")
)

const txMaxRetries = 4

// Store persists sessions in Redis. Each record lives under its token
// key with a TTL matching the absolute expiry; a per-account sorted set
// indexes tokens by last activity so role-cap eviction can pick the
// stalest sessions without scanning.
type Store struct {
	redis  redis.UniversalClient
	prefix string

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) key(token string) string {
	return s.prefix + ":s:" + token
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Save persists a session with the given TTL and indexes it under its
// account, scored by last activity.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.Token), data, ttl)
		pipe.ZAdd(ctx, s.accountKey(sess.AccountID), redis.Z{
			Score:  float64(sess.LastActivityAt),
			Member: sess.Token,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Get loads the raw record for a token. Expiry classification (absolute
// vs. inactivity) is the engine's job; the store only reports presence.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.Token = token
	return sess, nil
}

// Touch advances the session's last-activity timestamp without extending
// its absolute expiry. The remaining TTL is preserved.
func (s *Store) Touch(ctx context.Context, token string, at time.Time) error {
	key := s.key(token)

	for i := 0; i < txMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			sess, err := Decode(data)
			if err != nil {
				return err
			}
			sess.Token = token

			ttl, err := tx.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return redis.Nil
			}

			sess.LastActivityAt = at.Unix()
			encoded, err := Encode(sess)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, ttl)
				pipe.ZAdd(ctx, s.accountKey(sess.AccountID), redis.Z{
					Score:  float64(sess.LastActivityAt),
					Member: token,
				})
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: transaction contention", ErrBackendUnavailable)
}

// Delete removes one session. Deleting an absent token is not an error.
func (s *Store) Delete(ctx context.Context, token string) error {
	sess, err := s.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(token))
		pipe.ZRem(ctx, s.accountKey(sess.AccountID), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount removes every session of an account, optionally
// sparing one token. Returns the number of records deleted.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID, exceptToken string) (int, error) {
	accountKey := s.accountKey(accountID)
	var deleted int

	for i := 0; i < txMaxRetries; i++ {
		deleted = 0
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			tokens, err := tx.ZRange(ctx, accountKey, 0, -1).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			victims := make([]string, 0, len(tokens))
			for _, token := range tokens {
				if token != exceptToken {
					victims = append(victims, token)
				}
			}

			for _, token := range victims {
				n, err := tx.Exists(ctx, s.key(token)).Result()
				if err != nil {
					return err
				}
				deleted += int(n)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, token := range victims {
					pipe.Del(ctx, s.key(token))
					pipe.ZRem(ctx, accountKey, token)
				}
				return nil
			})
			return err
		}, accountKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return deleted, nil
	}

	return 0, fmt.Errorf("%w: transaction contention", ErrBackendUnavailable)
}

// Active returns the account's live sessions ordered newest-first by
// last activity. Index entries whose record has expired are pruned on
// the way through.
func (s *Store) Active(ctx context.Context, accountID string) ([]*Session, error) {
	accountKey := s.accountKey(accountID)

	tokens, err := s.redis.ZRevRange(ctx, accountKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(tokens) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(tokens))
	for i, token := range tokens {
		cmds[i] = pipe.Get(ctx, s.key(token))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sessions := make([]*Session, 0, len(tokens))
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				_, _ = s.redis.ZRem(ctx, accountKey, tokens[i]).Result()
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, cmdErr)
		}

		sess, decErr := Decode(data)
		if decErr != nil {
			return nil, decErr
		}
		sess.Token = tokens[i]
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

// EnforceCap trims the account's session set down to the cap,
// always sparing keepToken and then the most recently active others.
// The count-then-delete sequence runs under WATCH so two concurrent
// logins cannot both conclude they are the sole survivor.
func (s *Store) EnforceCap(ctx context.Context, accountID, keepToken string, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	accountKey := s.accountKey(accountID)
	var evicted int

	for i := 0; i < txMaxRetries; i++ {
		evicted = 0
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			tokens, err := tx.ZRevRange(ctx, accountKey, 0, -1).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			live := make([]string, 0, len(tokens))
			var stale []string
			for _, token := range tokens {
				n, err := tx.Exists(ctx, s.key(token)).Result()
				if err != nil {
					return err
				}
				if n == 0 {
					stale = append(stale, token)
					continue
				}
				live = append(live, token)
			}

			survivors := make(map[string]bool, limit)
			survivors[keepToken] = true
			for _, token := range live {
				if len(survivors) >= limit {
					break
				}
				survivors[token] = true
			}

			var victims []string
			for _, token := range live {
				if !survivors[token] {
					victims = append(victims, token)
				}
			}

			if len(victims) == 0 && len(stale) == 0 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, token := range victims {
					pipe.Del(ctx, s.key(token))
					pipe.ZRem(ctx, accountKey, token)
				}
				for _, token := range stale {
					pipe.ZRem(ctx, accountKey, token)
				}
				return nil
			})
			if err != nil {
				return err
			}
			evicted = len(victims)
			return nil
		}, accountKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return evicted, nil
	}

	return 0, fmt.Errorf("%w: transaction contention", ErrBackendUnavailable)
}

// CleanupExpired sweeps session records whose absolute expiry has passed
// and reconciles account indexes against missing records. Redis TTLs do
// most of this on their own; the sweep catches records written with a
// longer TTL than their expires_at and trims dangling index members.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now().Unix()
	var (
		removed int
		cursor  uint64
	)

	pattern := s.prefix + ":s:*"
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		for _, key := range keys {
			data, err := s.redis.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			sess, err := Decode(data)
			if err != nil {
				continue
			}
			if now <= sess.ExpiresAt {
				continue
			}

			token := key[len(s.prefix)+3:]
			_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.ZRem(ctx, s.accountKey(sess.AccountID), token)
				return nil
			})
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			removed++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	// Dangling index members: record TTL fired but the token is still
	// indexed under its account.
	cursor = 0
	indexPattern := s.prefix + ":a:*"
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, indexPattern, 200).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		for _, accountKey := range keys {
			tokens, err := s.redis.ZRange(ctx, accountKey, 0, -1).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			for _, token := range tokens {
				n, err := s.redis.Exists(ctx, s.key(token)).Result()
				if err != nil {
					return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
				}
				if n == 0 {
					_, _ = s.redis.ZRem(ctx, accountKey, token).Result()
				}
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}
