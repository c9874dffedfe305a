package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"mercator-hq/gatekeeper/pkg/governance"
)

// GenesisHash is the PrevHash of the first entry in a chain.
const GenesisHash = ""

// Hash returns the hex SHA-256 of the entry's RFC 8785 canonical JSON with
// the Hash field cleared. Canonicalization makes the digest independent of
// how the store round-trips numbers and map order.
func Hash(a *governance.Activity) (string, error) {
	c := *a
	c.Hash = ""
	c.Timestamp = c.Timestamp.UTC()

	raw, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("failed to encode activity %s: %w", a.ID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize activity %s: %w", a.ID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
