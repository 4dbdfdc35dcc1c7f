package dispatch

import (
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"snapshotd/pkg/metrics"
)

var (
	// ErrUnauthorized means a mechanism is configured but the request did
	// not satisfy it.
	ErrUnauthorized = errors.New("worker credential rejected")
	// ErrAuthNotConfigured means no mechanism is configured, so every
	// request is refused.
	ErrAuthNotConfigured = errors.New("worker authentication is not configured")
)

// WorkerTokenHeader carries the pre-shared worker secret.
const WorkerTokenHeader = "X-Worker-Token"

type AuthConfig struct {
	Token      string
	VerifyKey  ed25519.PublicKey
	Identities []string
	Audiences  []string
}

// Authenticator decides whether a request to the worker endpoint came from
// the trusted dispatch path. Either the shared token or a signed identity
// token is sufficient.
type Authenticator struct {
	cfg     AuthConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewAuthenticator(cfg AuthConfig, logger zerolog.Logger, m *metrics.Metrics) *Authenticator {
	cfg.Token = strings.TrimSpace(cfg.Token)
	return &Authenticator{cfg: cfg, logger: logger, metrics: m}
}

func (a *Authenticator) tokenConfigured() bool { return a.cfg.Token != "" }

func (a *Authenticator) identityConfigured() bool {
	return len(a.cfg.VerifyKey) == ed25519.PublicKeySize && len(a.cfg.Identities) > 0 && len(a.cfg.Audiences) > 0
}

// Configured reports whether any mechanism can accept a request.
func (a *Authenticator) Configured() bool {
	return a.tokenConfigured() || a.identityConfigured()
}

// Authenticate returns nil, ErrUnauthorized or ErrAuthNotConfigured.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if !a.Configured() {
		a.metrics.WorkerAuthResult("unconfigured")
		return ErrAuthNotConfigured
	}

	if a.tokenConfigured() {
		got := strings.TrimSpace(r.Header.Get(WorkerTokenHeader))
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.Token)) == 1 {
			a.metrics.WorkerAuthResult("token")
			return nil
		}
	}

	if a.identityConfigured() {
		if raw, ok := bearer(r); ok {
			err := a.verifyIdentity(raw)
			if err == nil {
				a.metrics.WorkerAuthResult("identity")
				return nil
			}
			a.logger.Warn().Err(err).Msg("worker identity token rejected")
		}
	}

	a.metrics.WorkerAuthResult("rejected")
	return ErrUnauthorized
}

func (a *Authenticator) verifyIdentity(raw string) error {
	var claims WorkerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.cfg.VerifyKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(a.cfg.Audiences...),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return err
	}

	identity := claims.Email
	if identity == "" {
		identity = claims.Subject
	}
	if !slices.Contains(a.cfg.Identities, identity) {
		return errors.New("identity not allowed")
	}
	return nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
