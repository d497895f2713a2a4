package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a compact content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ItemType identifies the kind of clinical source item.
type ItemType string

const (
	// ItemTypeNote is a free-text clinical note.
	ItemTypeNote ItemType = "note"
	// ItemTypeReport is a free-text report (radiology, pathology, discharge).
	ItemTypeReport ItemType = "report"
	// ItemTypeImage is a binary image referenced by path.
	ItemTypeImage ItemType = "image"
)

// ItemTypes lists the supported item types.
var ItemTypes = []ItemType{ItemTypeNote, ItemTypeReport, ItemTypeImage}

// HasText reports whether items of this type carry text content.
func (t ItemType) HasText() bool {
	return t == ItemTypeNote || t == ItemTypeReport
}

// SourceItem is one unit of input handed to the indexer by a document source.
type SourceItem struct {
	ItemID       string
	ItemType     ItemType
	PatientID    string
	TextContent  string    // Empty for images
	BinaryRef    string    // Path or blob reference, empty for text items
	LastModified time.Time // Drives incremental sync
}

// VectorRecord is a stored embedding for one item and one embedding model.
type VectorRecord struct {
	ItemID         string
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
	Metadata       map[string]string // Optional: patient_id, item_type, content_hash
}

// Well-known VectorRecord metadata keys.
const (
	MetadataPatientID   = "patient_id"
	MetadataItemType    = "item_type"
	MetadataContentHash = "content_hash"
)

// EntityType categorizes an extracted medical concept.
type EntityType string

const (
	EntitySymptom    EntityType = "SYMPTOM"
	EntityCondition  EntityType = "CONDITION"
	EntityMedication EntityType = "MEDICATION"
	EntityProcedure  EntityType = "PROCEDURE"
	EntityBodyPart   EntityType = "BODY_PART"
	EntityTemporal   EntityType = "TEMPORAL"
	EntityOther      EntityType = "OTHER"
)

// EntityTypes lists every entity type in a stable order.
var EntityTypes = []EntityType{
	EntitySymptom,
	EntityCondition,
	EntityMedication,
	EntityProcedure,
	EntityBodyPart,
	EntityTemporal,
	EntityOther,
}

// Entity is a medical concept extracted from one source item.
// Entities are never mutated. Re-extraction replaces every entity of the item.
type Entity struct {
	EntityID     string
	Text         string // Surface form, case preserved
	Type         EntityType
	SourceItemID string
	Confidence   float64
	Embedding    []float32 // Optional
}

// RelationshipCoOccurs links two entities mentioned in the same source item.
const RelationshipCoOccurs = "CO_OCCURS_WITH"

// Relationship is a directed edge between two entities of the same source item.
type Relationship struct {
	RelationshipID   string
	SourceEntityID   string
	TargetEntityID   string
	RelationshipType string
	SourceItemID     string
	Confidence       float64
}

// CheckpointStatus is the indexing state of one source item.
type CheckpointStatus string

const (
	StatusPending    CheckpointStatus = "pending"
	StatusProcessing CheckpointStatus = "processing"
	StatusCompleted  CheckpointStatus = "completed"
	StatusFailed     CheckpointStatus = "failed"
)

// CheckpointRecord tracks indexing progress for one source item.
type CheckpointRecord struct {
	ItemID        string
	Status        CheckpointStatus
	LastAttemptAt time.Time // Zero if never attempted
	ErrorMessage  string    // Empty if no error was recorded
	AttemptCount  int
}

// Watermark is the newest LastModified value an indexing pass has covered.
type Watermark struct {
	Name         string
	LastModified time.Time
	UpdatedAt    time.Time
}

// SimilarityMatch is one hit of a vector similarity search.
type SimilarityMatch struct {
	ItemID string
	Score  float32
}

// KeywordMatch is one hit of a keyword search, scored by distinct matched tokens.
type KeywordMatch struct {
	ItemID  string
	Matched int
}
