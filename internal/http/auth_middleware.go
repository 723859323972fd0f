package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fittrack/internal/domain"
	"fittrack/internal/service"
)

const (
	sessionClaimsKey  = "session_claims"
	legacyTokenHeader = "x-access-token"
)

// SessionParser valida credenciales de sesión.
type SessionParser interface {
	Parse(token string) (service.SessionClaims, error)
}

// UserFinder resuelve el usuario guardado a partir del id de la sesión.
type UserFinder interface {
	GetUser(ctx context.Context, id string) (domain.PublicUser, error)
}

// TokenFromRequest busca la credencial en la cookie, luego en
// Authorization: Bearer y por último en x-access-token.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil {
			if v := strings.TrimSpace(cookie.Value); v != "" {
				return v
			}
		}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
		if v := strings.TrimSpace(header[len("bearer "):]); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.Header.Get(legacyTokenHeader))
}

// RequireSignedIn rechaza requests sin credencial válida y guarda los claims
// en el contexto. Las causas de falla no se distinguen hacia el cliente.
func RequireSignedIn(sessions SessionParser, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		claims, err := sessions.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		c.Set(sessionClaimsKey, claims)
		c.Next()
	}
}

// RequireAdmin debe ir después de RequireSignedIn. El rol se vuelve a leer
// del store; el claim isAdmin no se usa.
func RequireAdmin(users UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetSessionClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		user, err := users.GetUser(c.Request.Context(), claims.UserID)
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "upstream failure"})
			return
		case user.Role != domain.RoleAdmin:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// GetSessionClaims obtiene los claims guardados por RequireSignedIn.
func GetSessionClaims(c *gin.Context) (service.SessionClaims, bool) {
	val, ok := c.Get(sessionClaimsKey)
	if !ok {
		return service.SessionClaims{}, false
	}
	claims, ok := val.(service.SessionClaims)
	return claims, ok
}
