package middleware

import (
	"net/http"
	"strings"

	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/logging"
	"github.com/ESRAILHAQUE/post-up-frontend-sub000/internal/session"
	"github.com/labstack/echo/v4"
)

const (
	HeaderRefreshToken = "X-Identity-Refresh-Token"
	tokenCookie        = "token"
	refreshCookie      = "identity_refresh_token"

	// long enough for a 3-D Secure challenge
	credentialCookieTTL = 15 * 60
)

// Session attaches the buyer's credentials to the request context.
// Requests without any credentials get an anonymous session.
func Session(refresher session.Refresher) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			storedJWT := bearerToken(req.Header.Get(echo.HeaderAuthorization))
			if storedJWT == "" {
				if cookie, err := c.Cookie(tokenCookie); err == nil {
					storedJWT = cookie.Value
				}
			}
			refreshToken := req.Header.Get(HeaderRefreshToken)
			if refreshToken == "" {
				if cookie, err := c.Cookie(refreshCookie); err == nil {
					refreshToken = cookie.Value
				}
			}

			s := session.Anonymous()
			if storedJWT != "" || refreshToken != "" {
				s = session.New(storedJWT, refreshToken, refresher)
			}

			ctx := session.IntoContext(req.Context(), s)
			if userID := s.UserID(); userID != "" {
				ctx = logging.IntoContext(ctx, logging.FromContext(ctx).With("user_id", userID))
			}
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// RememberCredentials copies the request's header credentials into cookies
// scoped to path, so a browser redirect back to path still carries the buyer.
func RememberCredentials(c echo.Context, path string) {
	req := c.Request()
	secure := c.Scheme() == "https"

	set := func(name, value string) {
		if value == "" {
			return
		}
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    value,
			Path:     path,
			MaxAge:   credentialCookieTTL,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	set(tokenCookie, bearerToken(req.Header.Get(echo.HeaderAuthorization)))
	set(refreshCookie, req.Header.Get(HeaderRefreshToken))
}

func bearerToken(header string) string {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
