package session

// Session is the server-side record behind one opaque session token. The
// client only ever holds the token; every field here stays in the store.
type Session struct {
	Token          string
	AccountID      string
	Role           string
	RememberMe     bool
	CreatedAt      int64
	ExpiresAt      int64
	LastActivityAt int64
}
