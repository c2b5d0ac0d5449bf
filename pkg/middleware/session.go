package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SessionCookie is the cookie carrying the signed session token.
const SessionCookie = "devgate_session"

// Sessions issues and verifies the session tokens the login router hands
// out and the authentication gate checks.
type Sessions struct {
	secret []byte
	expiry time.Duration
	logger *zap.Logger
}

// NewSessions creates a session manager signing tokens with secret.
func NewSessions(secret string, expiry time.Duration, logger *zap.Logger) *Sessions {
	return &Sessions{
		secret: []byte(secret),
		expiry: expiry,
		logger: logger.Named("sessions"),
	}
}

// Issue returns a signed session token.
func (s *Sessions) Issue() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "devgate",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify reports whether the token is valid and unexpired.
func (s *Sessions) Verify(tokenString string) bool {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	return true
}

// Authenticated reports whether the request carries a valid session cookie.
func (s *Sessions) Authenticated(r *http.Request) bool {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return false
	}
	return s.Verify(cookie.Value)
}

// Cookie builds the Set-Cookie value for an issued token.
func (s *Sessions) Cookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.expiry.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie builds the Set-Cookie value that removes the session.
func ClearCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
