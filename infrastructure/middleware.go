// infrastructure/middleware.go
package infrastructure

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

// OwnerIDKey is the gin context key holding the authenticated caller.
const OwnerIDKey = "owner_id"

type Claims struct {
	Username string `json:"username"`
	UserID   string `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware accepts HS256 bearer tokens signed with secret.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(c *gin.Context) {
		tokenString, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid || claims.UserID == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(OwnerIDKey, claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

// SignToken issues a token for userID; used by tooling and tests.
func SignToken(secret []byte, userID, username string) (string, error) {
	claims := Claims{Username: username, UserID: userID}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
