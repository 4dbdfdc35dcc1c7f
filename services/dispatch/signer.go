package dispatch

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the fixed iss claim on worker identity tokens.
const Issuer = "snapshotd-dispatch"

const defaultTokenTTL = 5 * time.Minute

// WorkerClaims identify the dispatch path to the worker endpoint.
type WorkerClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints short-lived EdDSA identity tokens for one audience.
type Signer struct {
	key      ed25519.PrivateKey
	identity string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func NewSigner(key ed25519.PrivateKey, identity, audience string) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("ed25519 private key is required")
	}
	if strings.TrimSpace(identity) == "" {
		return nil, errors.New("worker identity is required")
	}
	if strings.TrimSpace(audience) == "" {
		return nil, errors.New("audience is required")
	}
	return &Signer{key: key, identity: identity, audience: audience, ttl: defaultTokenTTL, now: time.Now}, nil
}

// Token returns a signed token valid for five minutes.
func (s *Signer) Token() (string, error) {
	now := s.now().UTC()
	claims := WorkerClaims{
		Email: s.identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   s.identity,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign worker token: %w", err)
	}
	return signed, nil
}

// ParsePrivateKey reads a PEM encoded PKCS#8 Ed25519 private key.
func ParsePrivateKey(pemText string) (ed25519.PrivateKey, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("not an ed25519 private key")
	}
	return priv, nil
}

// ParsePublicKey reads a PEM encoded PKIX Ed25519 public key.
func ParsePublicKey(pemText string) (ed25519.PublicKey, error) {
	key, err := jwt.ParseEdPublicKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, err
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("not an ed25519 public key")
	}
	return pub, nil
}
