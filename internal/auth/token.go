// Package auth issues and verifies HMAC-signed access tokens. Tokens are
// two base64url segments, payload.signature, signed with SHA-256.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims is the resolved identity carried by an access token: the user,
// their global role, and the company (tenant) they belong to. JTI keys the
// revocation denylist.
type Claims struct {
	Sub       string `json:"sub"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId"`
	JTI       string `json:"jti"`
	Exp       int64  `json:"exp"`
}

func (c Claims) wellFormed() bool {
	return c.Sub != "" && c.Name != "" && c.JTI != "" && c.Exp != 0
}

// IssueToken signs claims into a compact token string.
func IssueToken(secret []byte, claims Claims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + sign(secret, payload), nil
}

// ParseToken verifies the signature before decoding anything, in constant
// time, and rejects malformed or expired claims.
func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil || !claims.wellFormed() {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// HashToken is how refresh tokens are stored: only the SHA-256 hex digest
// ever touches Redis or Postgres.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

func sign(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
