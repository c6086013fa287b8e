package auth

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/dhuan/pkg/chaterr"
)

const RoleAdmin = "admin"

func signingKey() []byte {
	if k := os.Getenv("DHUAN_JWT_SECRET"); k != "" {
		return []byte(k)
	}
	return []byte("dev_secret_key")
}

// Claims carries the identity snapshot captured at login. Role and display
// name are frozen in the token; message authorship records them as-is and
// never re-resolves them.
type Claims struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

type contextKey string

const userKey contextKey = "user"

// GenerateToken creates a JWT for the given identity snapshot.
func GenerateToken(userID, role, displayName string) (string, error) {
	claims := &Claims{
		UserID:      userID,
		Role:        role,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey())
}

// ValidateToken parses and validates a JWT.
func ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return signingKey(), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// FromRequest extracts and validates the bearer token from the Authorization
// header, falling back to the "token" query parameter for websocket clients.
func FromRequest(r *http.Request) (*Claims, error) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		return nil, errors.New("no token provided")
	}
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}
	return ValidateToken(tokenString)
}

// RequireAdmin returns a PermissionError unless the claims carry the admin
// role. Pin, cleanup and retention writes all gate on this.
func RequireAdmin(c *Claims) error {
	if c == nil || c.Role != RoleAdmin {
		return chaterr.Permissionf("admin role required")
	}
	return nil
}
