// README: Idempotency-Key header validation for retried unsafe requests.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	ctxKeyIdempotencyKey = "idem.key"
	maxIdempotencyKeyLen = 200
)

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyKey validates an optional Idempotency-Key header and stashes it
// for handlers. Absent headers pass through untouched.
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen || !idempotencyKeyPattern.MatchString(key) {
			abort(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdempotencyKey, key)
		c.Next()
	}
}

func IdempotencyKeyFrom(c *gin.Context) string {
	return c.GetString(ctxKeyIdempotencyKey)
}
