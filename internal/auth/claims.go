package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the vpanel access-token payload the client reads.
// The signature is never verified here; the server is the authority. These
// values are for display and expiry bookkeeping only.
type Claims struct {
	jwt.RegisteredClaims

	ID       int64  `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
}

// ParseClaims decodes an access token without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	var claims Claims

	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("auth: parsing access token: %w", err)
	}

	return &claims, nil
}

// AccessTokenExpiry returns the exp claim of a JWT access token.
// Returns the zero time with an error if the token is opaque or has no exp.
func AccessTokenExpiry(token string) (time.Time, error) {
	claims, err := ParseClaims(token)
	if err != nil {
		return time.Time{}, err
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("auth: access token has no exp claim")
	}

	return claims.ExpiresAt.UTC(), nil
}
