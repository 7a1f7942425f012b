package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/model"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

// ContextIdentity is the gin context key of the authenticated caller.
const ContextIdentity = "identity"

// Authenticator resolves a bearer token to the caller.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Identity, error)
}

type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

// Authenticate rejects requests without a valid bearer token.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			httputil.RespondWithError(c, errors.Unauthorized("missing authorization header", nil))
			return
		}
		if !m.resolve(c, token) {
			return
		}
		c.Next()
	}
}

// Optional authenticates the request when it carries a token and lets it
// through anonymously when it does not. A token that fails to validate is
// still rejected.
func (m *AuthMiddleware) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if ok && !m.resolve(c, token) {
			return
		}
		c.Next()
	}
}

// RequireUserType rejects authenticated callers of another user type.
// Anonymous callers pass; pair it with Authenticate where a token is required.
func RequireUserType(userType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity := CurrentIdentity(c); identity != nil && identity.Type != userType {
			httputil.RespondWithError(c, errors.Forbidden(userType+" account required"))
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) resolve(c *gin.Context, token string) bool {
	identity, err := m.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		httputil.RespondWithError(c, err)
		return false
	}
	c.Set(ContextIdentity, identity)
	return true
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		// a malformed header is treated as a bad token, not as anonymous
		return header, true
	}
	return strings.TrimSpace(parts[1]), true
}

// CurrentIdentity returns the authenticated caller, or nil.
func CurrentIdentity(c *gin.Context) *model.Identity {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return nil
	}
	identity, _ := v.(*model.Identity)
	return identity
}
