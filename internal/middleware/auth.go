package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by AdminAuth.
const (
	ContextUserID = "userID"
	ContextRole   = "userRole"
)

// RoleAdmin is the role the admin API requires.
const RoleAdmin = "admin"

var errMissingToken = errors.New("missing bearer token")

// AdminAuth validates an HS256 bearer token and requires the given role in
// its "role" claim. The "user_id" claim is stored in the context.
func AdminAuth(secret []byte, role string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *gin.Context) {
		claims, err := parseBearer(parser, c.GetHeader("Authorization"), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: " + err.Error()})
			return
		}

		userRole, _ := claims["role"].(string)
		if !strings.EqualFold(strings.TrimSpace(userRole), role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: role not allowed"})
			return
		}

		userID, _ := claims["user_id"].(string)
		c.Set(ContextUserID, userID)
		c.Set(ContextRole, userRole)
		c.Next()
	}
}

func parseBearer(parser *jwt.Parser, header string, secret []byte) (jwt.MapClaims, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, errMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
