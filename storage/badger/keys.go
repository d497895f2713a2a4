package badger

import (
	"encoding/binary"
	"time"
)

// Key prefixes. Composite keys use a NUL separator because item ids are
// external identifiers and may contain ':' or '/'.
const (
	documentPrefix      = "doc:"
	documentTokenPrefix = "dtok:"
	documentModPrefix   = "dmod:"
	vectorPrefix        = "vec:"
	entityPrefix        = "ent:"
	entityItemPrefix    = "enti:"
	entityTokenPrefix   = "etok:"
	relationPrefix      = "rel:"
	relationItemPrefix  = "reli:"
	watermarkPrefix     = "wm:"

	keySeparator = "\x00"
)

// makeDocumentKey generates a key for a stored source item.
func makeDocumentKey(itemID string) []byte {
	return []byte(documentPrefix + itemID)
}

// makeDocumentTokenKey generates a posting key for the keyword index.
// Format: prefix token NUL itemID
func makeDocumentTokenKey(token, itemID string) []byte {
	return []byte(documentTokenPrefix + token + keySeparator + itemID)
}

// makeDocumentTokenPrefix generates the scan prefix for one token's postings.
func makeDocumentTokenPrefix(token string) []byte {
	return []byte(documentTokenPrefix + token + keySeparator)
}

// makeDocumentModKey generates a composite key for the last-modified index.
// Format: prefix timestamp itemID
func makeDocumentModKey(ts time.Time, itemID string) []byte {
	prefixBytes := []byte(documentModPrefix)
	buf := make([]byte, len(prefixBytes)+8+len(itemID))
	offset := copy(buf, prefixBytes)
	// Unset timestamps sort first
	micros := ts.UnixMicro()
	if ts.IsZero() || micros < 0 {
		micros = 0
	}
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(micros))
	offset += 8
	copy(buf[offset:], itemID)
	return buf
}

// parseDocumentModKey extracts the timestamp of a last-modified index key.
func parseDocumentModKey(key []byte) (time.Time, bool) {
	offset := len(documentModPrefix)
	if len(key) < offset+8 {
		return time.Time{}, false
	}
	micros := int64(binary.BigEndian.Uint64(key[offset : offset+8]))
	if micros == 0 {
		return time.Time{}, true
	}
	return time.UnixMicro(micros).UTC(), true
}

// makeVectorKey generates a key for a vector by item and model.
func makeVectorKey(itemID, model string) []byte {
	return []byte(vectorPrefix + itemID + keySeparator + model)
}

// makeVectorItemPrefix generates the scan prefix for every vector of an item.
func makeVectorItemPrefix(itemID string) []byte {
	return []byte(vectorPrefix + itemID + keySeparator)
}

func makeEntityKey(entityID string) []byte {
	return []byte(entityPrefix + entityID)
}

// makeEntityItemKey indexes an entity under its source item.
func makeEntityItemKey(itemID, entityID string) []byte {
	return []byte(entityItemPrefix + itemID + keySeparator + entityID)
}

func makeEntityItemPrefix(itemID string) []byte {
	return []byte(entityItemPrefix + itemID + keySeparator)
}

// makeEntityTokenKey indexes an entity under one token of its text.
func makeEntityTokenKey(token, entityID string) []byte {
	return []byte(entityTokenPrefix + token + keySeparator + entityID)
}

func makeEntityTokenPrefix(token string) []byte {
	return []byte(entityTokenPrefix + token + keySeparator)
}

func makeRelationKey(relationshipID string) []byte {
	return []byte(relationPrefix + relationshipID)
}

func makeRelationItemKey(itemID, relationshipID string) []byte {
	return []byte(relationItemPrefix + itemID + keySeparator + relationshipID)
}

func makeRelationItemPrefix(itemID string) []byte {
	return []byte(relationItemPrefix + itemID + keySeparator)
}

// makeWatermarkKey generates a key for a named sync watermark.
func makeWatermarkKey(name string) []byte {
	return []byte(watermarkPrefix + name)
}

// suffixAfter returns the part of key following prefix.
func suffixAfter(key, prefix []byte) string {
	return string(key[len(prefix):])
}
