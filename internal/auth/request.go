package auth

import (
	"net/http"
	"strings"

	"github.com/rickgao/codelab-live/internal/model"
)

// TokenQueryParam carries the token on websocket upgrades from browsers,
// which cannot set an Authorization header.
const TokenQueryParam = "token"

// Authenticator resolves the session attached to an HTTP request.
type Authenticator struct {
	creds      *Credentials
	cookieName string
}

// NewAuthenticator creates an Authenticator reading the given cookie.
func NewAuthenticator(creds *Credentials, cookieName string) *Authenticator {
	return &Authenticator{creds: creds, cookieName: cookieName}
}

// Authenticate returns the verified session for r. The token is taken from,
// in order, a bearer Authorization header, the session cookie, or the token
// query parameter. Returns ErrNoSession if none is present.
func (a *Authenticator) Authenticate(r *http.Request) (model.Session, error) {
	token := tokenFromRequest(r, a.cookieName)
	if token == "" {
		return model.Session{}, ErrNoSession
	}
	return a.creds.Verify(token)
}

func tokenFromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}
