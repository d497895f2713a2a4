package core

import (
	"errors"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the stored records. Times are Unix microseconds in UTC.
var (
	SourceItemMUS   = sourceItemMUS{}
	VectorRecordMUS = vectorRecordMUS{}
	EntityMUS       = entityMUS{}
	RelationshipMUS = relationshipMUS{}
	WatermarkMUS    = watermarkMUS{}
)

// ErrInvalidLength is returned when an encoded slice or map length does not
// fit the remaining bytes.
var ErrInvalidLength = errors.New("invalid encoded length")

type sourceItemMUS struct{}

func (sourceItemMUS) Marshal(v SourceItem, bs []byte) (n int) {
	n = ord.String.Marshal(v.ItemID, bs)
	n += ord.String.Marshal(string(v.ItemType), bs[n:])
	n += ord.String.Marshal(v.PatientID, bs[n:])
	n += ord.String.Marshal(v.TextContent, bs[n:])
	n += ord.String.Marshal(v.BinaryRef, bs[n:])
	return n + marshalTime(v.LastModified, bs[n:])
}

func (sourceItemMUS) Unmarshal(bs []byte) (v SourceItem, n int, err error) {
	r := musReader{bs: bs}
	v.ItemID = r.string()
	v.ItemType = ItemType(r.string())
	v.PatientID = r.string()
	v.TextContent = r.string()
	v.BinaryRef = r.string()
	v.LastModified = r.time()
	return v, r.n, r.err
}

func (sourceItemMUS) Size(v SourceItem) (size int) {
	size = ord.String.Size(v.ItemID)
	size += ord.String.Size(string(v.ItemType))
	size += ord.String.Size(v.PatientID)
	size += ord.String.Size(v.TextContent)
	size += ord.String.Size(v.BinaryRef)
	return size + sizeTime(v.LastModified)
}

func (s sourceItemMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type vectorRecordMUS struct{}

func (vectorRecordMUS) Marshal(v VectorRecord, bs []byte) (n int) {
	n = ord.String.Marshal(v.ItemID, bs)
	n += marshalFloat32s(v.Embedding, bs[n:])
	n += ord.String.Marshal(v.EmbeddingModel, bs[n:])
	n += marshalTime(v.CreatedAt, bs[n:])
	return n + marshalStringMap(v.Metadata, bs[n:])
}

func (vectorRecordMUS) Unmarshal(bs []byte) (v VectorRecord, n int, err error) {
	r := musReader{bs: bs}
	v.ItemID = r.string()
	v.Embedding = r.float32s()
	v.EmbeddingModel = r.string()
	v.CreatedAt = r.time()
	v.Metadata = r.stringMap()
	return v, r.n, r.err
}

func (vectorRecordMUS) Size(v VectorRecord) (size int) {
	size = ord.String.Size(v.ItemID)
	size += sizeFloat32s(v.Embedding)
	size += ord.String.Size(v.EmbeddingModel)
	size += sizeTime(v.CreatedAt)
	return size + sizeStringMap(v.Metadata)
}

func (s vectorRecordMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type entityMUS struct{}

func (entityMUS) Marshal(v Entity, bs []byte) (n int) {
	n = ord.String.Marshal(v.EntityID, bs)
	n += ord.String.Marshal(v.Text, bs[n:])
	n += ord.String.Marshal(string(v.Type), bs[n:])
	n += ord.String.Marshal(v.SourceItemID, bs[n:])
	n += raw.Float64.Marshal(v.Confidence, bs[n:])
	return n + marshalFloat32s(v.Embedding, bs[n:])
}

func (entityMUS) Unmarshal(bs []byte) (v Entity, n int, err error) {
	r := musReader{bs: bs}
	v.EntityID = r.string()
	v.Text = r.string()
	v.Type = EntityType(r.string())
	v.SourceItemID = r.string()
	v.Confidence = r.float64()
	v.Embedding = r.float32s()
	return v, r.n, r.err
}

func (entityMUS) Size(v Entity) (size int) {
	size = ord.String.Size(v.EntityID)
	size += ord.String.Size(v.Text)
	size += ord.String.Size(string(v.Type))
	size += ord.String.Size(v.SourceItemID)
	size += raw.Float64.Size(v.Confidence)
	return size + sizeFloat32s(v.Embedding)
}

func (s entityMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type relationshipMUS struct{}

func (relationshipMUS) Marshal(v Relationship, bs []byte) (n int) {
	n = ord.String.Marshal(v.RelationshipID, bs)
	n += ord.String.Marshal(v.SourceEntityID, bs[n:])
	n += ord.String.Marshal(v.TargetEntityID, bs[n:])
	n += ord.String.Marshal(v.RelationshipType, bs[n:])
	n += ord.String.Marshal(v.SourceItemID, bs[n:])
	return n + raw.Float64.Marshal(v.Confidence, bs[n:])
}

func (relationshipMUS) Unmarshal(bs []byte) (v Relationship, n int, err error) {
	r := musReader{bs: bs}
	v.RelationshipID = r.string()
	v.SourceEntityID = r.string()
	v.TargetEntityID = r.string()
	v.RelationshipType = r.string()
	v.SourceItemID = r.string()
	v.Confidence = r.float64()
	return v, r.n, r.err
}

func (relationshipMUS) Size(v Relationship) (size int) {
	size = ord.String.Size(v.RelationshipID)
	size += ord.String.Size(v.SourceEntityID)
	size += ord.String.Size(v.TargetEntityID)
	size += ord.String.Size(v.RelationshipType)
	size += ord.String.Size(v.SourceItemID)
	return size + raw.Float64.Size(v.Confidence)
}

func (s relationshipMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type watermarkMUS struct{}

func (watermarkMUS) Marshal(v Watermark, bs []byte) (n int) {
	n = ord.String.Marshal(v.Name, bs)
	n += marshalTime(v.LastModified, bs[n:])
	return n + marshalTime(v.UpdatedAt, bs[n:])
}

func (watermarkMUS) Unmarshal(bs []byte) (v Watermark, n int, err error) {
	r := musReader{bs: bs}
	v.Name = r.string()
	v.LastModified = r.time()
	v.UpdatedAt = r.time()
	return v, r.n, r.err
}

func (watermarkMUS) Size(v Watermark) (size int) {
	size = ord.String.Size(v.Name)
	size += sizeTime(v.LastModified)
	return size + sizeTime(v.UpdatedAt)
}

func (s watermarkMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

func marshalTime(t time.Time, bs []byte) int {
	return varint.Int64.Marshal(t.UnixMicro(), bs)
}

func sizeTime(t time.Time) int {
	return varint.Int64.Size(t.UnixMicro())
}

func marshalFloat32s(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func sizeFloat32s(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func marshalStringMap(m map[string]string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(m), bs)
	for k, v := range m {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(v, bs[n:])
	}
	return n
}

func sizeStringMap(m map[string]string) (size int) {
	size = varint.Int.Size(len(m))
	for k, v := range m {
		size += ord.String.Size(k) + ord.String.Size(v)
	}
	return size
}

// musReader unmarshals fields in order and stops at the first error.
type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) float64() float64 {
	if r.err != nil {
		return 0
	}
	v, n, err := raw.Float64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) time() time.Time {
	micros := r.int64()
	if r.err != nil {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

// length reads a collection length. Every element takes at least minSize
// bytes, which bounds the allocation a corrupt length can cause.
func (r *musReader) length(minSize int) int {
	if r.err != nil {
		return 0
	}
	l, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	if err != nil {
		r.err = err
		return 0
	}
	if l < 0 || l > (len(r.bs)-r.n)/minSize {
		r.err = ErrInvalidLength
		return 0
	}
	return l
}

func (r *musReader) float32s() []float32 {
	l := r.length(4)
	if l == 0 {
		return nil
	}
	v := make([]float32, l)
	for i := range v {
		if r.err != nil {
			return nil
		}
		f, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
		r.n += n
		r.err = err
		v[i] = f
	}
	if r.err != nil {
		return nil
	}
	return v
}

func (r *musReader) stringMap() map[string]string {
	l := r.length(2)
	if l == 0 {
		return nil
	}
	m := make(map[string]string, l)
	for range l {
		k := r.string()
		v := r.string()
		if r.err != nil {
			return nil
		}
		m[k] = v
	}
	return m
}
