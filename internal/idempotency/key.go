// Package idempotency derives deterministic idempotency keys for outbound
// gateway calls, so a retried request is treated as a duplicate by the
// gateway instead of producing a second financial operation.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenerateKey returns a SHA-256 hex key over a canonical serialization of
// the request body plus optional extra data. ExtraData disambiguates
// sub-requests that share one parent body, e.g. per-authorization captures
// of a multi-authorization order.
//
// The body is round-tripped through generic JSON before hashing: object keys
// are then serialized in sorted order, so the key is stable no matter how
// the caller's maps iterate or how struct fields are declared.
func GenerateKey(body any, extraData string) (string, error) {
	canonical, err := canonicalize(body)
	if err != nil {
		return "", fmt.Errorf("GenerateKey: %w", err)
	}

	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(extraData))
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalize(body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	return canonical, nil
}
