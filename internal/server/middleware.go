package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xxljob/executor-go/internal/logging"
)

// jwtStrictPrefix marks accessToken as an HMAC secret rather than a shared
// string: the inbound XXL-JOB-ACCESS-TOKEN header is then expected to be a
// signed JWT, not the secret itself. This is the "optional strict mode" a
// deployment opts into when it already issues JWTs for its other services
// and wants the executor to validate signatures instead of trusting an
// unsigned shared secret over the wire.
const jwtStrictPrefix = "jwt:"

// AccessToken enforces XXL-JOB-ACCESS-TOKEN on every inbound scheduler call
// when token is non-empty. An empty token disables the check entirely,
// matching deployments that rely on network-level trust instead.
func AccessToken(log *logging.Logger, token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	if secret, ok := strings.CutPrefix(token, jwtStrictPrefix); ok {
		return requireJWT(log, secret)
	}
	return func(c *gin.Context) {
		got := c.GetHeader("XXL-JOB-ACCESS-TOKEN")
		if got != token {
			if log != nil {
				log.Warn("rejected request with bad access token", "path", c.Request.URL.Path)
			}
			c.AbortWithStatusJSON(http.StatusOK, gin.H{"code": 500, "msg": "access token mismatch"})
			return
		}
		c.Next()
	}
}

// requireJWT validates the header as an HS256 JWT signed with secret,
// rejecting expired or mis-signed tokens the same way a plain mismatch is
// rejected.
func requireJWT(log *logging.Logger, secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		raw := c.GetHeader("XXL-JOB-ACCESS-TOKEN")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{"code": 500, "msg": "access token mismatch"})
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			if log != nil {
				log.Warn("rejected request with invalid jwt access token", "path", c.Request.URL.Path, "error", err)
			}
			c.AbortWithStatusJSON(http.StatusOK, gin.H{"code": 500, "msg": "access token mismatch"})
			return
		}
		c.Next()
	}
}
