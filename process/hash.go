package process

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/quarrylabs/quarry/feed"
)

// HandledHash is the sentinel stored as an entity's source hash after a
// non-delete clean action ran, so repeated imports do not reapply it.
const HandledHash = "handled"

// ContentHash fingerprints one item's mapped values together with the
// mapping table itself. Including the mapping configuration means a
// change to how fields map forces re-evaluation on the next import even
// when the source data is unchanged. Unmapped item fields never enter
// the hash.
func ContentHash(mappings []feed.Mapping, values map[string]map[string][]interface{}) string {
	payload := struct {
		Mappings []feed.Mapping                      `json:"mappings"`
		Values   map[string]map[string][]interface{} `json:"values"`
	}{
		Mappings: mappings,
		Values:   values,
	}

	// Map keys marshal in sorted order, so the digest is stable for
	// equal inputs.
	data, err := json.Marshal(payload)
	if err != nil {
		// Mapped values come from JSON/CSV/YAML parses and are always
		// marshalable; an error here means a programming mistake.
		panic(err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
