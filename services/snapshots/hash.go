package snapshots

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// IdempotencyHash is the storage key for a client-supplied idempotency key.
func IdempotencyHash(key string) string {
	sum := sha256.Sum256([]byte("share:" + strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

type shareEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	ShareID       string          `json:"shareId"`
	CreatedAt     time.Time       `json:"createdAt"`
	Snapshot      json.RawMessage `json:"snapshot"`
}

// encodeEnvelope returns the envelope bytes as stored and the SHA-256 digest
// of their canonical (RFC 8785) form. The stored bytes keep the snapshot's
// original number literals and string escapes; canonicalization only feeds
// the hash.
func encodeEnvelope(env shareEnvelope) ([]byte, string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode envelope: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", invalid("snapshot", "contains a number or string that cannot be canonicalized: %v", err)
	}
	sum := sha256.Sum256(canonical)
	return raw, hex.EncodeToString(sum[:]), nil
}

func decodeEnvelope(data []byte) (shareEnvelope, error) {
	var env shareEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return shareEnvelope{}, err
	}
	if len(env.Snapshot) == 0 || string(env.Snapshot) == "null" {
		return shareEnvelope{}, fmt.Errorf("envelope has no snapshot")
	}
	return env, nil
}
