package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// ClaimTTL is the lifetime of the signed user claim cookie.
	ClaimTTL = 300 * time.Second
	// RefreshSkew makes a claim this close to expiry count as expired.
	RefreshSkew = 30 * time.Second

	claimIssuer = "fsr-api"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Identity is the authenticated user as reported by the identity provider.
type Identity struct {
	Sub               string   `json:"sub"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	Groups            []string `json:"groups"`
	Exp               int64    `json:"exp"`
}

// UserClaims is the payload of the signed "user" cookie.
type UserClaims struct {
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	Groups            []string `json:"groups"`
	jwt.RegisteredClaims
}

// Identity converts the claim back to the identity it was issued for.
func (c UserClaims) Identity() Identity {
	identity := Identity{
		Sub:               c.Subject,
		Name:              c.Name,
		PreferredUsername: c.PreferredUsername,
		Groups:            c.Groups,
	}
	if c.ExpiresAt != nil {
		identity.Exp = c.ExpiresAt.Unix()
	}
	return identity
}

// NearExpiry reports whether the claim expires within skew of now.
func (c UserClaims) NearExpiry(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return !now.Add(skew).Before(c.ExpiresAt.Time)
}

// IssueUserToken signs a claim for identity valid from now for ttl.
func IssueUserToken(secret []byte, identity Identity, now time.Time, ttl time.Duration) (string, UserClaims, error) {
	if strings.TrimSpace(identity.Sub) == "" {
		return "", UserClaims{}, errors.New("identity subject is required")
	}
	if ttl <= 0 {
		ttl = ClaimTTL
	}
	claims := UserClaims{
		Name:              identity.Name,
		PreferredUsername: identity.PreferredUsername,
		Groups:            identity.Groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    claimIssuer,
			Subject:   identity.Sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", UserClaims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// ParseUserToken verifies signature and issuer. Expired claims yield
// ErrExpiredToken, everything else ErrInvalidToken.
func ParseUserToken(secret []byte, token string, now time.Time) (UserClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return UserClaims{}, ErrInvalidToken
	}

	var claims UserClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	},
		jwt.WithIssuer(claimIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return UserClaims{}, ErrExpiredToken
	}
	if err != nil || !parsed.Valid {
		return UserClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return UserClaims{}, ErrInvalidToken
	}
	return claims, nil
}
