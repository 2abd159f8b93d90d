package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials is returned when the session holds neither a stored token nor an identity source.
var ErrNoCredentials = errors.New("no credentials")

// Refresher exchanges an identity-provider refresh token for a live id token.
type Refresher interface {
	RefreshIDToken(ctx context.Context, refreshToken string) (string, error)
}

// Session carries the buyer's credentials for outgoing backend calls.
// The stored backend JWT wins while it is unexpired; otherwise a live
// identity-provider token is fetched once and reused for the session.
type Session struct {
	mu           sync.Mutex
	storedJWT    string
	refreshToken string
	refresher    Refresher
	liveToken    string
	now          func() time.Time
}

func New(storedJWT, refreshToken string, refresher Refresher) *Session {
	return &Session{
		storedJWT:    storedJWT,
		refreshToken: refreshToken,
		refresher:    refresher,
		now:          time.Now,
	}
}

// Anonymous returns a session without credentials.
func Anonymous() *Session {
	return New("", "", nil)
}

func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storedJWT != "" && !expired(s.storedJWT, s.now()) {
		return s.storedJWT, nil
	}
	if s.liveToken != "" && !expired(s.liveToken, s.now()) {
		return s.liveToken, nil
	}
	if s.refreshToken == "" || s.refresher == nil {
		return "", ErrNoCredentials
	}

	token, err := s.refresher.RefreshIDToken(ctx, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh identity token: %w", err)
	}
	s.liveToken = token
	return token, nil
}

// UserID reads the user id claim from whichever token the session holds.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, token := range []string{s.storedJWT, s.liveToken} {
		if id := userIDFromToken(token); id != "" {
			return id
		}
	}
	return ""
}

// ResolveUserID is UserID for a session that may only hold a refresh token.
// It fetches the live identity token first when no held token names a user.
func (s *Session) ResolveUserID(ctx context.Context) (string, error) {
	if id := s.UserID(); id != "" {
		return id, nil
	}
	if _, err := s.Token(ctx); err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return "", nil
		}
		return "", err
	}
	return s.UserID(), nil
}

// SignOut drops every credential held by the session.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storedJWT = ""
	s.refreshToken = ""
	s.liveToken = ""
}

// Tokens are verified by the backend; here they are only read.
func parseClaims(token string) (jwt.MapClaims, bool) {
	if token == "" {
		return nil, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Opaque tokens and tokens without exp are treated as valid.
func expired(token string, now time.Time) bool {
	claims, ok := parseClaims(token)
	if !ok {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}

func userIDFromToken(token string) string {
	claims, ok := parseClaims(token)
	if !ok {
		return ""
	}
	for _, key := range []string{"userId", "user_id", "id", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type ctxKey struct{}

func IntoContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request session, or an anonymous one when none is set.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok && s != nil {
		return s
	}
	return Anonymous()
}
