package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/poiesic/medfuse/core"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 16 << 20

// Record is the JSONL form of a source item.
type Record struct {
	ItemID       string    `json:"item_id"`
	ItemType     string    `json:"item_type"`
	PatientID    string    `json:"patient_id"`
	TextContent  string    `json:"text_content,omitempty"`
	BinaryRef    string    `json:"binary_ref,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// Item converts the record. The item type is lowercased; nothing else is
// checked.
func (r *Record) Item() *core.SourceItem {
	return &core.SourceItem{
		ItemID:       r.ItemID,
		ItemType:     core.ItemType(strings.ToLower(strings.TrimSpace(r.ItemType))),
		PatientID:    r.PatientID,
		TextContent:  r.TextContent,
		BinaryRef:    r.BinaryRef,
		LastModified: r.LastModified.UTC(),
	}
}

// RecordFor converts an item to its JSONL form.
func RecordFor(item *core.SourceItem) Record {
	return Record{
		ItemID:       item.ItemID,
		ItemType:     string(item.ItemType),
		PatientID:    item.PatientID,
		TextContent:  item.TextContent,
		BinaryRef:    item.BinaryRef,
		LastModified: item.LastModified,
	}
}

// JSONL reads one item per line from a file.
type JSONL struct {
	path string
	opts *options
}

var _ Source = (*JSONL)(nil)

// NewJSONL creates a JSONL source for path.
func NewJSONL(path string, opts ...Option) *JSONL {
	return &JSONL{path: path, opts: buildOptions(opts)}
}

// Load reads every record in the file.
func (s *JSONL) Load(ctx context.Context) ([]*core.SourceItem, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	items, err := ReadJSONL(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	s.opts.logger.Debug("loaded jsonl source", "path", s.path, "items", len(items))
	return items, nil
}

// ReadJSONL decodes records from r. Blank lines are skipped. A line that is
// not valid JSON fails the whole read with ErrMalformedRecord.
func ReadJSONL(ctx context.Context, r io.Reader) ([]*core.SourceItem, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var items []*core.SourceItem
	line := 0
	for scanner.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedRecord, line, err)
		}
		items = append(items, rec.Item())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading line %d: %w", line+1, err)
	}
	return items, nil
}

// WriteJSONL encodes items one per line.
func WriteJSONL(w io.Writer, items []*core.SourceItem) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, item := range items {
		if err := enc.Encode(RecordFor(item)); err != nil {
			return fmt.Errorf("encoding %s: %w", item.ItemID, err)
		}
	}
	return bw.Flush()
}
