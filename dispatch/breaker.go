package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrChannelOpen is returned while the breaker is rejecting sends.
var ErrChannelOpen = gobreaker.ErrOpenState

// BreakerConfig tunes the circuit breaker around a sender.
type BreakerConfig struct {
	// MaxRequests is how many probe sends the half-open state allows.
	MaxRequests uint32
	// Interval clears failure counts in the closed state; zero keeps
	// them forever.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// FailureRatio trips the breaker once at least MinRequests sends
	// have been observed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns tuning suited to an SMS gateway: trip
// fast when the gateway is down, probe again after half a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// BreakerSender wraps a Sender with a circuit breaker so a dead SMS
// gateway sheds sends quickly instead of holding a goroutine per
// message until its timeout.
type BreakerSender struct {
	inner   Sender
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

func NewBreakerSender(inner Sender, cfg BreakerConfig, logger *slog.Logger) *BreakerSender {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("otp delivery breaker state change",
				slog.String("channel", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &BreakerSender{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
		logger:  logger,
	}
}

func (s *BreakerSender) Name() string {
	return s.inner.Name()
}

func (s *BreakerSender) Send(ctx context.Context, msg Message) error {
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.inner.Send(ctx, msg)
	})
	return err
}
