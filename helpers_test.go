package cafegate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/poscore/cafegate/dispatch"
	"github.com/poscore/cafegate/internal/audit"
	"github.com/poscore/cafegate/password"
)

type stubStaffProvider struct {
	accounts map[string]*StaffAccount
	updates  map[string]string
	err      error
}

func newStubStaffProvider() *stubStaffProvider {
	return &stubStaffProvider{
		accounts: make(map[string]*StaffAccount),
		updates:  make(map[string]string),
	}
}

func (p *stubStaffProvider) StaffByUsername(_ context.Context, username string) (*StaffAccount, error) {
	if p.err != nil {
		return nil, p.err
	}
	account, ok := p.accounts[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (p *stubStaffProvider) UpdatePasswordHash(_ context.Context, accountID, newHash string) error {
	p.updates[accountID] = newHash
	for _, account := range p.accounts {
		if account.ID == accountID {
			account.PasswordHash = newHash
		}
	}
	return nil
}

type stubCustomerProvider struct {
	accounts map[string]*CustomerAccount
	verified map[string]bool
	err      error
}

func newStubCustomerProvider() *stubCustomerProvider {
	return &stubCustomerProvider{
		accounts: make(map[string]*CustomerAccount),
		verified: make(map[string]bool),
	}
}

func (p *stubCustomerProvider) CustomerByPhone(_ context.Context, phone string) (*CustomerAccount, error) {
	if p.err != nil {
		return nil, p.err
	}
	account, ok := p.accounts[phone]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (p *stubCustomerProvider) MarkPhoneVerified(_ context.Context, accountID string) error {
	p.verified[accountID] = true
	for _, account := range p.accounts {
		if account.ID == accountID {
			account.PhoneVerified = true
		}
	}
	return nil
}

type testHarness struct {
	mr        *miniredis.Miniredis
	staff     *stubStaffProvider
	customers *stubCustomerProvider
	sender    *dispatch.Recorder
	sink      *audit.ChannelSink
	now       time.Time
}

// advance moves both the injected clock and miniredis TTL time.
func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.mr.FastForward(d)
}

func newTestEngine(t *testing.T) (*Engine, *testHarness) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &testHarness{
		mr:        mr,
		staff:     newStubStaffProvider(),
		customers: newStubCustomerProvider(),
		sender:    &dispatch.Recorder{},
		sink:      audit.NewChannelSink(256),
		now:       time.Now(),
	}

	cfg := DefaultConfig()
	// Cheap hash parameters keep the suite fast; the production cost is
	// covered in the password package tests.
	cfg.Password.Params = password.Params{
		MemoryKB:    8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Audit.DropIfFull = false

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStaffProvider(h.staff).
		WithCustomerProvider(h.customers).
		WithSender(h.sender).
		WithAuditSink(h.sink).
		Build()
	if err != nil {
		t.Fatalf("engine build: %v", err)
	}
	t.Cleanup(engine.Close)

	clock := func() time.Time { return h.now }
	engine.now = clock
	engine.sessions.Now = clock
	engine.otps.Now = clock
	engine.loginLimiter.Now = clock
	engine.otpLimiter.Now = clock

	return engine, h
}

func (h *testHarness) seedStaff(t *testing.T, engine *Engine, username, plaintext string, role Role) *StaffAccount {
	t.Helper()

	hash, err := engine.hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	account := &StaffAccount{
		ID:           "staff-" + username,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	h.staff.accounts[username] = account
	return account
}

func (h *testHarness) seedCustomer(phone string) *CustomerAccount {
	account := &CustomerAccount{
		ID:          "cust-" + phone,
		PhoneNumber: phone,
		Active:      true,
	}
	h.customers.accounts[phone] = account
	return account
}

// lastCode waits for the detached dispatch goroutine to deliver, then
// returns the most recent code for the phone.
func (h *testHarness) lastCode(t *testing.T, phone string) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := h.sender.Last(); ok && msg.PhoneNumber == phone {
			return msg.Code
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no OTP delivered for %s", phone)
	return ""
}

// waitAudit reads sink events until one matches the action, failing the
// test if none arrives in time.
func (h *testHarness) waitAudit(t *testing.T, action string) AuditEvent {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-h.sink.Events():
			if event.Action == action {
				return event
			}
		case <-timeout:
			t.Fatalf("no %q audit event", action)
		}
	}
}

// drainAudit discards everything buffered so far.
func (h *testHarness) drainAudit() {
	for {
		select {
		case <-h.sink.Events():
		default:
			return
		}
	}
}
