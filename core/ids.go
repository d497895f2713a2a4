package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// relationshipNamespace scopes name-based relationship UUIDs.
var relationshipNamespace = uuid.MustParse("6f1f3c8e-5b7a-4d2e-9c1a-2f0e8d4b7a10")

// EntityIDFor returns the deterministic id of an entity extracted from an item.
// Re-extracting the same text from the same item yields the same id.
func EntityIDFor(sourceItemID string, entityType EntityType, text string) string {
	key := sourceItemID + "\x00" + string(entityType) + "\x00" + strings.ToLower(strings.TrimSpace(text))
	return fmt.Sprintf("%016x", uint64(IDFromContent(key)))
}

// RelationshipIDFor returns the deterministic id of an edge between two entities.
func RelationshipIDFor(sourceEntityID, targetEntityID, relationshipType string) string {
	name := sourceEntityID + "|" + relationshipType + "|" + targetEntityID
	return uuid.NewSHA1(relationshipNamespace, []byte(name)).String()
}

// ContentHash fingerprints item text so unchanged content can be recognised.
func ContentHash(text string) string {
	return fmt.Sprintf("%016x", uint64(IDFromContent(text)))
}
