package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/medfuse/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDirectory_Load(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "P1/visit-2024-01.txt", []byte("Chest pain since yesterday."))
	writeFile(t, root, "P1/echo_report.md", []byte("Echocardiogram normal."))
	scan := writeFile(t, root, "P2/scans/chest.png", []byte{0x89, 'P', 'N', 'G'})
	writeFile(t, root, "P2/.draft.txt", []byte("hidden"))
	writeFile(t, root, ".cache/P3/note.txt", []byte("hidden dir"))
	writeFile(t, root, "P2/export.json", []byte("{}"))
	writeFile(t, root, "P2/binary.txt", []byte{0xff, 0xfe, 0x00})
	writeFile(t, root, "loose.txt", []byte("no patient folder"))

	items, err := NewDirectory(root).Load(context.Background())
	require.NoError(t, err)

	byID := make(map[string]*core.SourceItem, len(items))
	for _, item := range items {
		byID[item.ItemID] = item
	}
	require.Len(t, byID, 4)

	visit := byID["P1/visit-2024-01.txt"]
	require.NotNil(t, visit)
	assert.Equal(t, core.ItemTypeNote, visit.ItemType)
	assert.Equal(t, "P1", visit.PatientID)
	assert.Equal(t, "Chest pain since yesterday.", visit.TextContent)
	assert.False(t, visit.LastModified.IsZero())

	report := byID["P1/echo_report.md"]
	require.NotNil(t, report)
	assert.Equal(t, core.ItemTypeReport, report.ItemType)

	img := byID["P2/scans/chest.png"]
	require.NotNil(t, img)
	assert.Equal(t, core.ItemTypeImage, img.ItemType)
	assert.Equal(t, "P2", img.PatientID)
	assert.Equal(t, scan, img.BinaryRef)
	assert.Empty(t, img.TextContent)

	loose := byID["loose.txt"]
	require.NotNil(t, loose)
	assert.Empty(t, loose.PatientID)
	assert.ErrorIs(t, core.ValidateSourceItem(loose), core.ErrEmptyPatientID)
}

func TestDirectory_LoadErrors(t *testing.T) {
	_, err := NewDirectory("/non/existent/path").Load(context.Background())
	assert.ErrorContains(t, err, "root path error")

	file := writeFile(t, t.TempDir(), "a.txt", []byte("x"))
	_, err = NewDirectory(file).Load(context.Background())
	assert.ErrorContains(t, err, "not a directory")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := t.TempDir()
	writeFile(t, root, "P1/a.txt", []byte("x"))
	_, err = NewDirectory(root).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyFile(t *testing.T) {
	tests := []struct {
		name string
		want core.ItemType
	}{
		{"note.txt", core.ItemTypeNote},
		{"NOTES", core.ItemTypeNote},
		{"discharge.md", core.ItemTypeNote},
		{"Pathology_Report.txt", core.ItemTypeReport},
		{"scan.PNG", core.ItemTypeImage},
		{"scan.jpeg", core.ItemTypeImage},
		{"series.dcm", core.ItemTypeImage},
		{"bundle.json", ""},
		{"archive.zip", ""},
		{"file.zzzzunknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFile(tt.name))
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	assert.Equal(t, "text/plain", DetectMIMEType("file"))
	assert.Equal(t, "text/markdown", DetectMIMEType("doc.MD"))
	assert.Equal(t, "image/png", DetectMIMEType("image.png"))
	assert.NotContains(t, DetectMIMEType("page.html"), "charset")
	assert.Equal(t, "application/octet-stream", DetectMIMEType("file.xyzabc123"))
}

func TestIsHidden(t *testing.T) {
	assert.True(t, IsHidden(".hidden"))
	assert.True(t, IsHidden("dir/.git/config"))
	assert.False(t, IsHidden("P1/note.txt"))
	assert.False(t, IsHidden("../P1/note.txt"))
	assert.False(t, IsHidden("."))
}
