package cafegate

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/poscore/cafegate/dispatch"
	"github.com/poscore/cafegate/internal/audit"
	"github.com/poscore/cafegate/internal/rate"
	"github.com/poscore/cafegate/internal/stores"
	"github.com/poscore/cafegate/password"
	"github.com/poscore/cafegate/session"
)

// Builder assembles an Engine. Collaborators the deployment does not
// need can be left unset; the operations that require them return
// ErrEngineNotReady.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	staff     StaffProvider
	customers CustomerProvider
	sender    dispatch.Sender
	auditSink AuditSink
	logger    *slog.Logger

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStaffProvider(p StaffProvider) *Builder {
	b.staff = p
	return b
}

func (b *Builder) WithCustomerProvider(p CustomerProvider) *Builder {
	b.customers = p
	return b
}

func (b *Builder) WithSender(s dispatch.Sender) *Builder {
	b.sender = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(b.config.Password.Params)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	prefix := b.config.KeyPrefix
	sender := b.sender
	if sender == nil {
		sender = dispatch.NoOpSender{}
	}

	e := &Engine{
		config:    b.config,
		logger:    logger,
		staff:     b.staff,
		customers: b.customers,
		sender:    sender,
		hasher:    hasher,
		sessions:  session.NewStore(b.redis, prefix+":sess"),
		otps:      stores.NewOTPStore(b.redis, prefix+":otp"),
		loginLimiter: rate.New(b.redis, prefix+":rl:login", rate.Policy{
			Window:    b.config.Lockout.Window,
			Threshold: b.config.Lockout.Threshold,
			LockFor:   b.config.Lockout.LockFor,
		}),
		otpLimiter: rate.New(b.redis, prefix+":rl:otp", rate.Policy{
			Window:    b.config.OTP.RequestWindow,
			Threshold: b.config.OTP.RequestThreshold,
		}),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    b.config.Audit.Enabled,
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, b.auditSink),
		metrics:  NewMetrics(b.config.Metrics),
		validate: validator.New(),
	}

	b.built = true
	return e, nil
}
