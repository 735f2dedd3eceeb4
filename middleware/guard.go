package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/poscore/cafegate"
)

type sessionContextKey struct{}

// SessionFromContext returns the session injected by RequireSession.
func SessionFromContext(ctx context.Context) (*cafegate.SessionInfo, bool) {
	info, ok := ctx.Value(sessionContextKey{}).(*cafegate.SessionInfo)
	return info, ok
}

// RequireSession rejects requests without a valid bearer session and
// marks activity on the ones it lets through. Optional roles restrict
// the guard to sessions holding one of them.
func RequireSession(engine *cafegate.Engine, roles ...cafegate.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := engine.Validate(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if len(roles) > 0 && !roleAllowed(info.Role, roles) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			// Activity refresh is best effort; a refresh failure must
			// not reject a request the validation already admitted.
			_ = engine.Refresh(r.Context(), token)

			ctx := context.WithValue(r.Context(), sessionContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func roleAllowed(role cafegate.Role, allowed []cafegate.Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}
