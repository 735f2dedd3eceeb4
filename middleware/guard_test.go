package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/poscore/cafegate"
	"github.com/poscore/cafegate/password"
)

type singleStaff struct {
	account cafegate.StaffAccount
}

func (s *singleStaff) StaffByUsername(_ context.Context, username string) (*cafegate.StaffAccount, error) {
	if username != s.account.Username {
		return nil, cafegate.ErrAccountNotFound
	}
	copied := s.account
	return &copied, nil
}

func (s *singleStaff) UpdatePasswordHash(_ context.Context, _, newHash string) error {
	s.account.PasswordHash = newHash
	return nil
}

func newGuardedEngine(t *testing.T) (*cafegate.Engine, string) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := cafegate.DefaultConfig()
	cfg.Password.Params = password.Params{
		MemoryKB: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}

	hasher, err := password.NewHasher(cfg.Password.Params)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash("till-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	staff := &singleStaff{account: cafegate.StaffAccount{
		ID:           "staff-1",
		Username:     "ana",
		PasswordHash: hash,
		Role:         cafegate.RoleCashier,
		Active:       true,
	}}

	engine, err := cafegate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStaffProvider(staff).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	result, err := engine.LoginStaff(context.Background(), cafegate.StaffLoginRequest{
		Username: "ana", Password: "till-password", Fingerprint: "test",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return engine, result.Token
}

func guardedServer(engine *cafegate.Engine, roles ...cafegate.Role) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := SessionFromContext(r.Context())
		if !ok {
			http.Error(w, "no session in context", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(info.AccountID))
	})
	return RequireSession(engine, roles...)(inner)
}

func TestRequireSessionMissingHeader(t *testing.T) {
	engine, _ := newGuardedEngine(t)
	handler := guardedServer(engine)

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d", header, rec.Code)
		}
	}
}

func TestRequireSessionUnknownToken(t *testing.T) {
	engine, _ := newGuardedEngine(t)
	handler := guardedServer(engine)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRequireSessionValidToken(t *testing.T) {
	engine, token := newGuardedEngine(t)
	handler := guardedServer(engine)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "staff-1" {
		t.Fatalf("body = %q", rec.Body)
	}
}

func TestRequireSessionRoleFilter(t *testing.T) {
	engine, token := newGuardedEngine(t)

	allowed := guardedServer(engine, cafegate.RoleCashier, cafegate.RoleOwner)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	allowed.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed role: status = %d", rec.Code)
	}

	denied := guardedServer(engine, cafegate.RoleOwner)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	denied.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("denied role: status = %d", rec.Code)
	}
}

func TestRequireSessionLoggedOutToken(t *testing.T) {
	engine, token := newGuardedEngine(t)
	handler := guardedServer(engine)

	if err := engine.Logout(context.Background(), token); err != nil {
		t.Fatalf("logout: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}
