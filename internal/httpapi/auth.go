package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const operatorPasswordBCryptCost = 12

// NewOperatorAuth returns a basic-auth middleware for the operator API. The
// configured password is hashed once at startup; unset credentials disable
// the whole surface rather than leaving it open.
func NewOperatorAuth(username string, password string) gin.HandlerFunc {
	username = strings.TrimSpace(username)
	var passwordHash []byte
	if username != "" && strings.TrimSpace(password) != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), operatorPasswordBCryptCost)
		if err == nil {
			passwordHash = hashed
		}
	}

	return func(c *gin.Context) {
		if passwordHash == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "operator credentials are not configured"})
			return
		}
		user, pass, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			bcrypt.CompareHashAndPassword(passwordHash, []byte(pass)) != nil {
			c.Header("WWW-Authenticate", `Basic realm="nodegate"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
