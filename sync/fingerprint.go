package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/goliatone/go-fiware-sync/core"
)

type fingerprintInput struct {
	Type       string                    `json:"type"`
	Attributes map[string]core.Attribute `json:"attributes"`
}

// Fingerprint hashes the canonical JSON of the entity type and attributes.
// encoding/json sorts map keys, so equal entities always hash the same.
func Fingerprint(entity core.Entity) (string, error) {
	payload, err := json.Marshal(fingerprintInput{
		Type:       entity.Type,
		Attributes: entity.AttributesPayload(),
	})
	if err != nil {
		return "", core.NewMappingError("sync: encode entity fingerprint", err, map[string]any{
			"entity_id": entity.ID,
		})
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
