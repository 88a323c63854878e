// README: Firebase bearer-token auth; stores the caller's uid and role on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"errand/internal/infra"
	"errand/internal/types"
)

const (
	ctxKeyUserID = "userID"
	ctxKeyRole   = "role"
)

// Auth verifies the "Authorization: Bearer <id token>" header. A token
// without a role claim acts as a customer. The system role is reserved for
// in-process jobs and is never accepted from a token.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abort(c, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			zerolog.Ctx(c.Request.Context()).Debug().Err(err).Msg("token rejected")
			abort(c, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}

		role := types.Role(token.Role())
		if role == "" {
			role = types.RoleCustomer
		}
		if !role.Valid() || role == types.RoleSystem {
			abort(c, http.StatusForbidden, "forbidden", "unknown role")
			return
		}

		c.Set(ctxKeyUserID, token.UID)
		c.Set(ctxKeyRole, string(role))
		l := zerolog.Ctx(c.Request.Context()).With().Str("user_id", token.UID).Str("role", string(role)).Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
		c.Next()
	}
}

// RequireRole lets only the listed roles through. Place it after Auth.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := types.Role(CallerRole(c))
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "forbidden", "role not allowed")
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUserID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// Caller is the authenticated actor for service commands.
func Caller(c *gin.Context) types.Actor {
	return types.Actor{ID: types.ID(CallerUID(c)), Role: types.Role(CallerRole(c))}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      msg,
		"code":       code,
		"request_id": RequestIDFrom(c),
	})
}
