package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"snapshotd/services/snapshots"
)

const (
	visitorCookie  = "snapshot_vid"
	sessionCookie  = "snapshot_session"
	visitorMaxAge  = 180 * 24 * time.Hour
	sessionIssuer  = "snapshotd"
	visitorIDBytes = 12
)

var visitorIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{10,80}$`)

// SessionClaims identify a signed-in user.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs an HS256 session for subject.
func IssueSessionToken(secret, subject, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("session secret is required")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now().UTC()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type identity struct {
	visitorID string
	user      *snapshots.Owner
}

func (id identity) owner() snapshots.Owner {
	if id.user != nil {
		return *id.user
	}
	return snapshots.Owner{Type: snapshots.OwnerVisitor, ID: id.visitorID}
}

type identityKey struct{}

// withIdentity resolves the caller and issues a visitor cookie when the
// request has none.
func (a *API) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identity{visitorID: a.visitorID(w, r)}
		if user, ok := a.sessionUser(r); ok {
			id.user = user
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func identityFrom(r *http.Request) identity {
	id, _ := r.Context().Value(identityKey{}).(identity)
	return id
}

func (a *API) visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(visitorCookie); err == nil && visitorIDPattern.MatchString(c.Value) {
		return c.Value
	}

	buf := make([]byte, visitorIDBytes)
	_, _ = rand.Read(buf)
	id := base64.RawURLEncoding.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookie,
		Value:    id,
		Path:     "/",
		Domain:   a.cfg.CookieDomain,
		MaxAge:   int(visitorMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (a *API) sessionUser(r *http.Request) (*snapshots.Owner, bool) {
	if a.cfg.SessionSecret == "" {
		return nil, false
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return nil, false
	}

	var claims SessionClaims
	_, err = jwt.ParseWithClaims(c.Value, &claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.SessionSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || claims.Subject == "" {
		return nil, false
	}
	return &snapshots.Owner{Type: snapshots.OwnerUser, ID: claims.Subject, Email: claims.Email}, true
}
