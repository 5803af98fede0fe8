package server

import (
	"crypto/subtle"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// APITokenRequired guards the internal API with the shared API_TOKEN.
// Without a token only non-production environments are open.
func (s *Server) APITokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := s.cfg.APIToken
		if expected == "" {
			if s.cfg.IsProduction() {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			c.Next()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, bearerPrefix) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) RateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		res := s.limiter.Allow(c.Request.Context(), scope, c.ClientIP())
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func parseIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
