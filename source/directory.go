package source

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/medfuse/core"
)

// maxTextFileBytes skips text files too large to be clinical notes.
const maxTextFileBytes = 4 << 20

// Directory walks a tree laid out as <root>/<patient_id>/<file>. Text files
// become notes, or reports when "report" appears in the file name; image
// files become image items referencing their absolute path. Hidden files
// and unsupported types are skipped.
type Directory struct {
	root string
	opts *options
}

var _ Source = (*Directory)(nil)

// NewDirectory creates a source rooted at root.
func NewDirectory(root string, opts ...Option) *Directory {
	return &Directory{root: root, opts: buildOptions(opts)}
}

// Root returns the directory being walked.
func (s *Directory) Root() string {
	return s.root
}

// Load walks the tree in lexical order.
func (s *Directory) Load(ctx context.Context) ([]*core.SourceItem, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, fmt.Errorf("root path error: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path error: %s is not a directory", root)
	}

	var items []*core.SourceItem
	skipped := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if IsHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		item, err := s.ItemForFile(root, path)
		if err != nil {
			return err
		}
		if item == nil {
			skipped++
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.opts.logger.Debug("loaded directory source", "root", root, "items", len(items), "skipped", skipped)
	return items, nil
}

// ItemForFile converts one file under root. It returns nil for files that
// are not notes, reports or images, and for text that is not valid UTF-8.
func (s *Directory) ItemForFile(root, path string) (*core.SourceItem, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)

	kind := ClassifyFile(path)
	if kind == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	item := &core.SourceItem{
		ItemID:       rel,
		ItemType:     kind,
		PatientID:    patientFromPath(rel),
		LastModified: info.ModTime().UTC(),
	}

	if kind == core.ItemTypeImage {
		item.BinaryRef = path
		return item, nil
	}

	if info.Size() > maxTextFileBytes {
		s.opts.logger.Warn("skipping oversized text file", "path", path, "bytes", info.Size())
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		s.opts.logger.Warn("skipping non-utf8 text file", "path", path)
		return nil, nil
	}
	item.TextContent = string(data)
	return item, nil
}

// ClassifyFile returns the item type for a file name, or "" when the file
// is not indexable.
func ClassifyFile(path string) core.ItemType {
	name := strings.ToLower(filepath.Base(path))
	mimeType := DetectMIMEType(name)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return core.ItemTypeImage
	case strings.HasPrefix(mimeType, "text/"):
		if strings.Contains(name, "report") {
			return core.ItemTypeReport
		}
		return core.ItemTypeNote
	default:
		return ""
	}
}

// DetectMIMEType returns the MIME type for a file name without parameters.
// Files with no extension are treated as plain text.
func DetectMIMEType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case "", ".txt", ".text":
		return "text/plain"
	case ".md", ".markdown":
		return "text/markdown"
	case ".dcm", ".dicom":
		return "image/dicom"
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = mt[:i]
		}
		return strings.TrimSpace(mt)
	}
	return "application/octet-stream"
}

// IsHidden reports whether a path has a dot-prefixed component.
func IsHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && strings.HasPrefix(part, ".") && part != ".." {
			return true
		}
	}
	return false
}

// patientFromPath returns the first component of a slash-separated relative
// path. Files directly under the root have no patient.
func patientFromPath(rel string) string {
	patient, _, ok := strings.Cut(rel, "/")
	if !ok {
		return ""
	}
	return patient
}
