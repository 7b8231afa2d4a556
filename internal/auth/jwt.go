package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload: the opaque bearer token is a self-verifying
// JWT, never looked up in the store.
type Claims struct {
	AccountID string         `json:"sub"`
	Extras    map[string]any `json:"extras,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig controls how bearer tokens are minted. Expiry of zero means
// the minted token carries no exp claim at all — it never expires, which
// is the core's default. A positive Expiry is an operator opt-in to
// bounded sessions.
type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

func DefaultTokenConfig(secret string) TokenConfig {
	return TokenConfig{
		Secret: secret,
		Issuer: "relay",
	}
}

// CreateToken mints a bearer token for accountID. extras is an optional,
// opaque bag of claims the caller wants carried alongside the account id
// (e.g. the pairing response's requesting-account context); nil is fine.
func CreateToken(accountID string, extras map[string]any, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if accountID == "" {
		return "", errors.New("missing accountID")
	}

	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}
	jti := hex.EncodeToString(jtiBytes)

	claims := Claims{
		AccountID: accountID,
		Extras:    extras,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   cfg.Issuer,
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ID:       jti,
			Subject:  accountID,
		},
	}
	if cfg.Expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(cfg.Expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// VerifyToken validates tokenString's signature and expiry and returns its
// claims. It never consults the store — the relay's zero-knowledge bearer
// tokens are self-verifying by design.
func VerifyToken(tokenString string, cfg TokenConfig) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}
