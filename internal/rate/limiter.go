package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Policy holds the tuning of one sliding-window rule. A zero LockFor
// means no hard lock is ever armed: the window simply refuses new
// attempts until the oldest recorded one ages out.
type Policy struct {
	Window    time.Duration
	Threshold int
	LockFor   time.Duration
}

// Decision is the outcome of a Check or Record call.
type Decision struct {
	Allowed    bool
	Remaining  int           // attempts left before the threshold, when allowed
	RetryAfter time.Duration // wait until a slot frees or the lock elapses, when denied
	Locked     bool          // a hard lock is in force
	FailedOpen bool          // backend unreachable; allowed by the fail-open policy
}

// checkScript prunes stale attempts and reports whether the identifier is
// currently allowed, without recording anything.
//
//	KEYS[1] = attempts zset, KEYS[2] = lock key
//	ARGV[1] = now ms, ARGV[2] = window ms, ARGV[3] = threshold
//
// Returns {1, remaining} when allowed, {0, wait_ms, locked} when denied.
var checkScript = redis.NewScript(`
local lock_ttl = redis.call('PTTL', KEYS[2])
if lock_ttl > 0 then
  return {0, lock_ttl, 1}
end

local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= threshold then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local wait = tonumber(oldest[2]) + window - now
  if wait < 1 then
    wait = 1
  end
  return {0, wait, 0}
end

return {1, threshold - count}
`)

// recordScript records one attempt unless the identifier is locked or the
// window is already full. When the recorded attempt reaches the threshold
// and the policy carries a lock duration, the lock is armed from this
// moment, not from the first attempt in the window.
//
//	KEYS[1] = attempts zset, KEYS[2] = lock key
//	ARGV[1] = now ms, ARGV[2] = window ms, ARGV[3] = threshold,
//	ARGV[4] = lock ms, ARGV[5] = member
//
// Returns {1, remaining}, {0, wait_ms, locked}, or {2, lock_ms} when this
// attempt armed the lock.
var recordScript = redis.NewScript(`
local lock_ttl = redis.call('PTTL', KEYS[2])
if lock_ttl > 0 then
  return {0, lock_ttl, 1}
end

local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])
local lock_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= threshold then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local wait = tonumber(oldest[2]) + window - now
  if wait < 1 then
    wait = 1
  end
  return {0, wait, 0}
end

redis.call('ZADD', KEYS[1], now, ARGV[5])
redis.call('PEXPIRE', KEYS[1], window)
count = count + 1

if count >= threshold and lock_ms > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', lock_ms)
  return {2, lock_ms}
end

return {1, threshold - count}
`)

// Limiter enforces one sliding-window policy over Redis-backed counters.
// Every identifier gets an ordered set of attempt timestamps; entries
// older than the window never count toward the threshold.
//
// When Redis is unreachable the limiter fails OPEN: locking users out
// because of infrastructure trouble is the worse failure mode here. The
// caller receives both the allowing decision and the backend error so it
// can log and meter the event.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	policy Policy

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func New(redisClient redis.UniversalClient, prefix string, policy Policy) *Limiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &Limiter{
		redis:  redisClient,
		prefix: prefix,
		policy: policy,
	}
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Limiter) attemptsKey(identifier string) string {
	return l.prefix + ":a:" + identifier
}

func (l *Limiter) lockKey(identifier string) string {
	return l.prefix + ":l:" + identifier
}

// Check reports whether the identifier is currently allowed an attempt.
// It prunes stale entries but records nothing.
func (l *Limiter) Check(ctx context.Context, identifier string) (Decision, error) {
	nowMS := l.now().UnixMilli()

	result, err := checkScript.Run(ctx, l.redis,
		[]string{l.attemptsKey(identifier), l.lockKey(identifier)},
		nowMS,
		l.policy.Window.Milliseconds(),
		l.policy.Threshold,
	).Result()
	if err != nil {
		return Decision{Allowed: true, FailedOpen: true},
			fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return l.parseDecision(result)
}

// Record registers one attempt for the identifier and returns the
// post-record state. While a lock is in force the attempt is not even
// evaluated against the threshold; the lock is authoritative until it
// elapses.
func (l *Limiter) Record(ctx context.Context, identifier string) (Decision, error) {
	now := l.now()
	member := strconv.FormatInt(now.UnixNano(), 36)

	result, err := recordScript.Run(ctx, l.redis,
		[]string{l.attemptsKey(identifier), l.lockKey(identifier)},
		now.UnixMilli(),
		l.policy.Window.Milliseconds(),
		l.policy.Threshold,
		l.policy.LockFor.Milliseconds(),
		member,
	).Result()
	if err != nil {
		return Decision{Allowed: true, FailedOpen: true},
			fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return l.parseDecision(result)
}

// Reset clears all attempt history and any lock for the identifier.
// Called after successful authentication.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	err := l.redis.Del(ctx, l.attemptsKey(identifier), l.lockKey(identifier)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (l *Limiter) parseDecision(result interface{}) (Decision, error) {
	parts, ok := result.([]interface{})
	if !ok || len(parts) < 2 {
		return Decision{Allowed: true, FailedOpen: true},
			fmt.Errorf("%w: invalid limiter script response", ErrBackendUnavailable)
	}

	code, ok := parts[0].(int64)
	if !ok {
		return Decision{Allowed: true, FailedOpen: true},
			fmt.Errorf("%w: invalid limiter script status", ErrBackendUnavailable)
	}

	switch code {
	case 0:
		waitMS, _ := parts[1].(int64)
		locked := false
		if len(parts) > 2 {
			if flag, ok := parts[2].(int64); ok {
				locked = flag == 1
			}
		}
		return Decision{
			RetryAfter: time.Duration(waitMS) * time.Millisecond,
			Locked:     locked,
		}, nil
	case 1:
		remaining, _ := parts[1].(int64)
		return Decision{Allowed: true, Remaining: int(remaining)}, nil
	case 2:
		lockMS, _ := parts[1].(int64)
		return Decision{
			RetryAfter: time.Duration(lockMS) * time.Millisecond,
			Locked:     true,
		}, nil
	default:
		return Decision{Allowed: true, FailedOpen: true},
			fmt.Errorf("%w: unknown limiter script status %d", ErrBackendUnavailable, code)
	}
}
