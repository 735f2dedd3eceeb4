package cafegate

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricOTPRequested
	MetricOTPThrottled
	MetricOTPResent
	MetricOTPVerified
	MetricOTPFailed
	MetricOTPDispatchFailure
	MetricSessionCreated
	MetricSessionEvicted
	MetricSessionExpiredTimeout
	MetricSessionExpiredInactivity
	MetricValidateSuccess
	MetricLogout
	MetricLogoutAll
	MetricPasswordUpgraded
	MetricLimiterFailOpen
	MetricBackendError
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:             "login_success",
	MetricLoginFailure:             "login_failure",
	MetricLoginRateLimited:         "login_rate_limited",
	MetricOTPRequested:             "otp_requested",
	MetricOTPThrottled:             "otp_throttled",
	MetricOTPResent:                "otp_resent",
	MetricOTPVerified:              "otp_verified",
	MetricOTPFailed:                "otp_failed",
	MetricOTPDispatchFailure:       "otp_dispatch_failure",
	MetricSessionCreated:           "session_created",
	MetricSessionEvicted:           "session_evicted",
	MetricSessionExpiredTimeout:    "session_expired_timeout",
	MetricSessionExpiredInactivity: "session_expired_inactivity",
	MetricValidateSuccess:          "validate_success",
	MetricLogout:                   "logout",
	MetricLogoutAll:                "logout_all",
	MetricPasswordUpgraded:         "password_upgraded",
	MetricLimiterFailOpen:          "limiter_fail_open",
	MetricBackendError:             "backend_error",
}

func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's in-process counters. Counters are padded
// to a cache line each so hot paths on different cores do not contend.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

// MetricIDs lists every counter id in declaration order, for exporters.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}
