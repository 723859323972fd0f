package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fittrack/internal/domain"
)

const (
	defaultSessionTTL = 7 * 24 * time.Hour
	sessionIssuer     = "fittrack"
)

// SessionClaims es el payload del token de sesión.
type SessionClaims struct {
	UserID  string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"isAdmin"`
	jwt.RegisteredClaims
}

// SessionToken es la credencial emitida en el login.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionService emite y valida tokens de sesión firmados (HS256). No guarda
// estado salvo la lista de revocados opcional.
type SessionService struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	revoked RevocationStore
	now     func() time.Time
}

func NewSessionService(secret string, ttl time.Duration, revoked RevocationStore) *SessionService {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionService{
		secret:  []byte(secret),
		ttl:     ttl,
		issuer:  sessionIssuer,
		revoked: revoked,
		now:     time.Now,
	}
}

func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

func (s *SessionService) Issue(user domain.User) (SessionToken, error) {
	if len(s.secret) == 0 {
		return SessionToken{}, errors.New("session secret not configured")
	}
	now := s.now().UTC()
	claims := SessionClaims{
		UserID:  user.ID,
		Email:   user.Email,
		Name:    user.Name,
		IsAdmin: user.IsAdmin(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return SessionToken{}, err
	}
	return SessionToken{Token: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse valida firma, emisor y expiración (exp == now ya está vencido) y
// consulta la lista de revocados. Cualquier falla devuelve ErrSessionInvalid.
func (s *SessionService) Parse(token string) (SessionClaims, error) {
	if len(s.secret) == 0 || strings.TrimSpace(token) == "" {
		return SessionClaims{}, ErrSessionInvalid
	}
	var claims SessionClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return SessionClaims{}, ErrSessionInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.Subject != claims.UserID || claims.ID == "" {
		return SessionClaims{}, ErrSessionInvalid
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(claims.ID)
		if err != nil || revoked {
			return SessionClaims{}, ErrSessionInvalid
		}
	}
	return claims, nil
}

// Revoke agrega el jti a la lista de revocados hasta su expiración natural.
func (s *SessionService) Revoke(claims SessionClaims) error {
	if s.revoked == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.revoked.Revoke(claims.ID, claims.UserID, ttl)
}
