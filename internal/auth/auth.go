// Package auth verifies bearer tokens issued by the identity service.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// TypeServiceProvider marks tokens issued to providers.
const TypeServiceProvider = "serviceProvider"

const identityKey = "auth.identity"

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by access tokens.
type Claims struct {
	ID         string `json:"id"`
	Email      string `json:"email,omitempty"`
	UserName   string `json:"userName,omitempty"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	IsVerified bool   `json:"isVerified,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified caller.
type Identity struct {
	ID       string
	Email    string
	Provider bool
}

// Verifier checks HS256 access tokens against a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Parse validates the token and returns its claims.
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	claims := new(Claims)
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for claims. Used by tests and local tooling.
func (v *Verifier) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the caller identity.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
				"msg":   "missing or invalid authorization header",
			})
			return
		}
		claims, err := v.Parse(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
				"msg":   "invalid token",
			})
			return
		}
		c.Set(identityKey, Identity{
			ID:       claims.ID,
			Email:    claims.Email,
			Provider: claims.Type == TypeServiceProvider,
		})
		c.Next()
	}
}

// RequireProvider must run after Middleware.
func RequireProvider() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := Caller(c)
		if !ok || !id.Provider {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden",
				"msg":   "not a service provider token",
			})
			return
		}
		c.Next()
	}
}

// Caller returns the identity stored by Middleware.
func Caller(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
