// Package token issues access tokens and opaque refresh tokens.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// RefreshTokenBytes is the entropy of a refresh token before encoding.
	RefreshTokenBytes = 48
	accessTokenType   = "access"
)

func GenerateRandomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSHA256 is the stored form of a refresh token.
func HashSHA256(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// AccessClaims is what the access token carries about the caller.
type AccessClaims struct {
	UserID      uuid.UUID
	TenantID    uuid.UUID
	Roles       []string
	Permissions []string
	DataScope   string
	Department  string
	Team        string
}

// SignAccess signs an HS256 access token valid for ttl.
func SignAccess(secret string, c AccessClaims, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":         c.UserID.String(),
		"type":        accessTokenType,
		"tenant_id":   c.TenantID.String(),
		"roles":       nonNil(c.Roles),
		"permissions": nonNil(c.Permissions),
		"data_scope":  c.DataScope,
		"dept":        c.Department,
		"team":        c.Team,
		"exp":         now.Add(ttl).Unix(),
		"iat":         now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
