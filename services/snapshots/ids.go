package snapshots

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"regexp"
)

const (
	shareIDLength      = 12
	jobIDLength        = 14
	generationIDLength = 14
)

var (
	shareIDPattern      = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)
	jobIDPattern        = regexp.MustCompile(`^[A-Za-z0-9_-]{10,72}$`)
	generationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{10,72}$`)
	safeSegmentPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

func NewShareID() string      { return randomID(shareIDLength) }
func NewJobID() string        { return randomID(jobIDLength) }
func NewGenerationID() string { return randomID(generationIDLength) }

func ValidShareID(id string) bool      { return shareIDPattern.MatchString(id) }
func ValidJobID(id string) bool        { return jobIDPattern.MatchString(id) }
func ValidGenerationID(id string) bool { return generationIDPattern.MatchString(id) }

func randomID(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)[:n]
}

// SafeSegment maps an owner id onto a string usable as a single path element.
// Ids that are already safe pass through unchanged.
func SafeSegment(s string) string {
	if safeSegmentPattern.MatchString(s) {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return "h" + hex.EncodeToString(sum[:16])
}
