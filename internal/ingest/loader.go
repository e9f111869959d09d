package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/smallbiznis/booksight/internal/config"
	"github.com/smallbiznis/booksight/internal/source"
)

// ErrSourceUnavailable means a whole source folder or file is missing or
// unreadable. It is fatal for the run; row-level damage is not.
var ErrSourceUnavailable = errors.New("source_unavailable")

// RowFunc receives one raw row. Returning an error stops the scan.
type RowFunc func(source.RawRow) error

// Loader streams one source's raw rows. Re-invoking Load over unchanged
// files yields the same sequence.
type Loader interface {
	Load(ctx context.Context, kind source.Kind, fn RowFunc) (skipped int, err error)
}

// Set holds one loader per source tag.
type Set map[source.Tag]Loader

// NewSet builds directory loaders for all configured sources.
func NewSet(cfg config.Config) Set {
	set := make(Set, len(source.All()))
	for _, tag := range source.All() {
		set[tag] = NewDirLoader(cfg.SourceDir(tag), tag)
	}
	return set
}

var Module = fx.Module("ingest",
	fx.Provide(NewSet),
)

// DirLoader reads a source folder laid out as books.yaml, customers.csv
// and orders.jsonl.
type DirLoader struct {
	dir string
	tag source.Tag
}

func NewDirLoader(dir string, tag source.Tag) *DirLoader {
	return &DirLoader{dir: dir, tag: tag}
}

func fileForKind(kind source.Kind) (string, error) {
	switch kind {
	case source.KindBooks:
		return "books.yaml", nil
	case source.KindCustomers:
		return "customers.csv", nil
	case source.KindOrders:
		return "orders.jsonl", nil
	default:
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
}

func (l *DirLoader) Load(ctx context.Context, kind source.Kind, fn RowFunc) (int, error) {
	name, err := fileForKind(kind)
	if err != nil {
		return 0, err
	}
	path := filepath.Join(l.dir, name)

	switch kind {
	case source.KindBooks:
		return l.loadYAML(ctx, path, fn)
	case source.KindCustomers:
		return l.loadCSV(ctx, path, fn)
	default:
		return l.loadJSONL(ctx, path, fn)
	}
}

func (l *DirLoader) open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, path, err)
	}
	return f, nil
}
