package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/medfuse/core"
)

// Source yields the items to index.
type Source interface {
	Load(ctx context.Context) ([]*core.SourceItem, error)
}

// Option configures a source.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "source")
	return o
}

// Open returns the source for path. Directories are walked, .jsonl and
// .ndjson files are read as JSONL, and .json files as FHIR Bundles.
func Open(path string, opts ...Option) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", path, err)
	}
	if info.IsDir() {
		return NewDirectory(path, opts...), nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return NewJSONL(path, opts...), nil
	case ".json":
		return NewFHIRBundle(path, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, path)
	}
}

// Static serves a fixed list of items.
type Static []*core.SourceItem

// Load returns the items.
func (s Static) Load(ctx context.Context) ([]*core.SourceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
