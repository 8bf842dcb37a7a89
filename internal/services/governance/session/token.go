package session

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/brightward/brightward/internal/platform/errors"
)

// Environment variable names for session token verification.
const (
	EnvTokenIssuer    = "BRIGHTWARD_GOVERNANCE_SESSION_TOKEN_ISSUER"
	EnvTokenAudience  = "BRIGHTWARD_GOVERNANCE_SESSION_TOKEN_AUDIENCE"
	EnvTokenPublicKey = "BRIGHTWARD_GOVERNANCE_SESSION_TOKEN_PUBLIC_KEY"
)

// tokenEnv holds raw env values before post-parse validation.
type tokenEnv struct {
	Issuer    string `env:"BRIGHTWARD_GOVERNANCE_SESSION_TOKEN_ISSUER"`
	Audience  string `env:"BRIGHTWARD_GOVERNANCE_SESSION_TOKEN_AUDIENCE"`
	PublicKey string `env:"BRIGHTWARD_GOVERNANCE_SESSION_TOKEN_PUBLIC_KEY"`
}

// TokenConfig defines how session tokens are verified.
type TokenConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// TokenClaims captures validated session token claims. The jti carries
// the session id and the sub carries the user id.
type TokenClaims struct {
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	SessionID string
	UserID    string
}

// LoadTokenConfigFromEnv reads session token verification configuration.
func LoadTokenConfigFromEnv(now func() time.Time) (TokenConfig, error) {
	var raw tokenEnv
	if err := env.Parse(&raw); err != nil {
		return TokenConfig{}, fmt.Errorf("parse session token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return TokenConfig{}, fmt.Errorf("%s is required", EnvTokenIssuer)
	}
	if audience == "" {
		return TokenConfig{}, fmt.Errorf("%s is required", EnvTokenAudience)
	}
	if publicKey == "" {
		return TokenConfig{}, fmt.Errorf("%s is required", EnvTokenPublicKey)
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return TokenConfig{}, fmt.Errorf("decode session token public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return TokenConfig{}, fmt.Errorf("session token public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return TokenConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// ValidateSessionToken verifies a session token's signature and registered
// claims. Timeout and lockout policy is the guard's job, not this
// function's; only the token-level expiry is checked here.
func ValidateSessionToken(token string, cfg TokenConfig) (TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenClaims{}, apperrors.New(apperrors.CodeSessionTokenInvalid, "session token is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return TokenClaims{}, errors.New("session token verifier is not configured")
	}

	var parsed jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return TokenClaims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return TokenClaims{}, apperrors.WithMetadata(
			apperrors.CodeSessionTokenInvalid,
			"session token issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return TokenClaims{}, apperrors.WithMetadata(
			apperrors.CodeSessionTokenInvalid,
			"session token audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}
	if parsed.ID == "" {
		return TokenClaims{}, apperrors.New(apperrors.CodeSessionTokenInvalid, "session token jti is required")
	}
	if parsed.Subject == "" {
		return TokenClaims{}, apperrors.New(apperrors.CodeSessionTokenInvalid, "session token sub is required")
	}
	if parsed.ExpiresAt == nil {
		return TokenClaims{}, apperrors.New(apperrors.CodeSessionTokenInvalid, "session token exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return TokenClaims{}, apperrors.New(apperrors.CodeSessionExpired, "session token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return TokenClaims{}, apperrors.New(apperrors.CodeSessionTokenInvalid, "session token not active yet")
	}

	claims := TokenClaims{
		Issuer:    parsed.Issuer,
		Audience:  []string(parsed.Audience),
		ExpiresAt: exp,
		SessionID: parsed.ID,
		UserID:    parsed.Subject,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeSessionTokenInvalid, "session token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeSessionTokenInvalid, "session token alg is invalid")
	}
	return apperrors.New(apperrors.CodeSessionTokenInvalid, "session token is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
