package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/poiesic/medfuse/core"
)

const (
	resourceBundle            = "Bundle"
	resourceDocumentReference = "DocumentReference"
	resourceDiagnosticReport  = "DiagnosticReport"
)

// fhirBundle is the subset of an R4 Bundle needed to find resources.
type fhirBundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

type fhirReference struct {
	Reference string `json:"reference,omitempty"`
}

type fhirMeta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`
}

type fhirAttachment struct {
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data,omitempty"` // base64
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
}

// fhirResource holds the fields of DocumentReference and DiagnosticReport
// that map onto a source item.
type fhirResource struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Meta         fhirMeta      `json:"meta"`
	Subject      fhirReference `json:"subject"`

	// DocumentReference
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
	Content     []struct {
		Attachment fhirAttachment `json:"attachment"`
	} `json:"content,omitempty"`

	// DiagnosticReport
	Issued        string           `json:"issued,omitempty"`
	Conclusion    string           `json:"conclusion,omitempty"`
	PresentedForm []fhirAttachment `json:"presentedForm,omitempty"`
}

// FHIRBundle reads DocumentReference and DiagnosticReport resources from an
// R4 Bundle file. Other resource types are skipped.
type FHIRBundle struct {
	path string
	opts *options
}

var _ Source = (*FHIRBundle)(nil)

// NewFHIRBundle creates a source for the bundle at path.
func NewFHIRBundle(path string, opts ...Option) *FHIRBundle {
	return &FHIRBundle{path: path, opts: buildOptions(opts)}
}

// Load parses the bundle.
func (s *FHIRBundle) Load(ctx context.Context) ([]*core.SourceItem, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	items, skipped, err := ReadFHIRBundle(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	s.opts.logger.Debug("loaded fhir bundle", "path", s.path, "items", len(items), "skipped", skipped)
	return items, nil
}

// ReadFHIRBundle decodes a bundle and converts its clinical documents.
// It returns the items and the number of entries skipped as unsupported.
func ReadFHIRBundle(ctx context.Context, r io.Reader) ([]*core.SourceItem, int, error) {
	var bundle fhirBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}
	if bundle.ResourceType != resourceBundle {
		return nil, 0, fmt.Errorf("%w: resourceType is %q", ErrNotBundle, bundle.ResourceType)
	}

	var items []*core.SourceItem
	skipped := 0
	for i, entry := range bundle.Entry {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if len(entry.Resource) == 0 {
			skipped++
			continue
		}
		var res fhirResource
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			return nil, 0, fmt.Errorf("%w: entry %d: %w", ErrMalformedRecord, i, err)
		}

		var item *core.SourceItem
		switch res.ResourceType {
		case resourceDocumentReference:
			item = documentReferenceItem(&res)
		case resourceDiagnosticReport:
			item = diagnosticReportItem(&res)
		default:
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped, nil
}

// documentReferenceItem maps a DocumentReference. Text attachments become a
// note; a reference with only image attachments becomes an image item.
func documentReferenceItem(res *fhirResource) *core.SourceItem {
	item := baseItem(res, res.Date)

	var texts []string
	var imageRef string
	for _, c := range res.Content {
		att := c.Attachment
		switch {
		case isTextAttachment(att):
			if text := attachmentText(att); text != "" {
				texts = append(texts, text)
			}
		case isImageAttachment(att) && imageRef == "":
			imageRef = att.URL
		}
	}
	if len(texts) == 0 && res.Description != "" && imageRef == "" {
		texts = append(texts, res.Description)
	}

	if len(texts) == 0 && imageRef != "" {
		item.ItemType = core.ItemTypeImage
		item.BinaryRef = imageRef
		return item
	}
	item.ItemType = core.ItemTypeNote
	item.TextContent = strings.Join(texts, "\n\n")
	return item
}

// diagnosticReportItem maps a DiagnosticReport. The conclusion and any text
// presented forms make up the report text.
func diagnosticReportItem(res *fhirResource) *core.SourceItem {
	item := baseItem(res, res.Issued)
	item.ItemType = core.ItemTypeReport

	var texts []string
	if c := strings.TrimSpace(res.Conclusion); c != "" {
		texts = append(texts, c)
	}
	for _, att := range res.PresentedForm {
		if !isTextAttachment(att) {
			continue
		}
		if text := attachmentText(att); text != "" {
			texts = append(texts, text)
		}
	}
	item.TextContent = strings.Join(texts, "\n\n")
	return item
}

func baseItem(res *fhirResource, date string) *core.SourceItem {
	item := &core.SourceItem{
		PatientID:    patientFromReference(res.Subject.Reference),
		LastModified: parseFHIRTime(res.Meta.LastUpdated),
	}
	if res.ID != "" {
		item.ItemID = res.ResourceType + "/" + res.ID
	}
	if item.LastModified.IsZero() {
		item.LastModified = parseFHIRTime(date)
	}
	return item
}

// patientFromReference extracts the id from "Patient/<id>". Other reference
// forms are returned unchanged.
func patientFromReference(ref string) string {
	if id, ok := strings.CutPrefix(ref, "Patient/"); ok {
		return id
	}
	return ref
}

// parseFHIRTime accepts the instant, dateTime and date forms.
func parseFHIRTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func isTextAttachment(att fhirAttachment) bool {
	ct := strings.ToLower(att.ContentType)
	return ct == "" && att.Data != "" || strings.HasPrefix(ct, "text/")
}

func isImageAttachment(att fhirAttachment) bool {
	return strings.HasPrefix(strings.ToLower(att.ContentType), "image/") && att.URL != ""
}

// attachmentText decodes inline base64 data. Undecodable data yields "".
func attachmentText(att fhirAttachment) string {
	if att.Data == "" {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
