package auth

import (
	"campus-sync/domain"
	"campus-sync/errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "campus-sync"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed JWT for identity.
func GenerateToken(secret []byte, identity domain.Identity, roles []string,
	authTokenDuration time.Duration) (string, error) {
	if err := identity.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	claims := &CustomClaims{
		UserID:      identity.ID,
		DisplayName: identity.DisplayName,
		Roles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(authTokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	// HS256 (HMAC with SHA256)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates the signature and expiration of a JWT string.
func ValidateToken(secret []byte, tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// IdentityFromBearer extracts the identity carried by an "Authorization"
// header value. A missing, invalid or expired token is ErrNotAuthenticated.
func IdentityFromBearer(secret []byte, header string) (domain.Identity, error) {
	tokenStr := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tokenStr == "" {
		return domain.Identity{}, errors.ErrNotAuthenticated
	}
	claims, err := ValidateToken(secret, tokenStr)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrNotAuthenticated, err)
	}
	identity := domain.Identity{ID: claims.UserID, DisplayName: claims.DisplayName}
	if err = identity.Validate(); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}
