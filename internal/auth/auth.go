package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
)

// DefaultTokenTTL bounds how long an issued service token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// Service issues and validates HS256 bearer tokens for the inbound API.
// Callers are other backend services, not end users, so a shared secret
// is sufficient.
type Service struct {
	secret []byte
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time
}

func New(secret string, logger logging.Logger) (*Service, error) {
	if len(secret) < 16 {
		return nil, errors.ConfigError("jwt secret must be at least 16 bytes")
	}
	return &Service{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "auth"}),
		now:    time.Now,
	}, nil
}

// IssueToken mints a token identifying the calling service.
func (s *Service) IssueToken(subject string) (string, error) {
	if subject == "" {
		return "", errors.ValidationError("token subject is required")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign service token", err)
	}
	return signed, nil
}

// ValidateToken parses a bearer token and returns the calling service's
// subject. Algorithm is pinned to HS256.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.AuthError("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", errors.AuthError("invalid service token")
	}
	return claims.Subject, nil
}

// Middleware rejects requests lacking a valid Authorization bearer token.
// The caller's subject is forwarded to handlers via the X-Service header.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			s.unauthorized(w)
			return
		}
		subject, err := s.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			s.logger.Warn("rejected request with invalid service token",
				logging.Field{Key: "path", Value: r.URL.Path})
			s.unauthorized(w)
			return
		}
		r.Header.Set("X-Service", subject)
		next.ServeHTTP(w, r)
	})
}

func (s *Service) unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "authentication required"}`))
}
