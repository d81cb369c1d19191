// Package source turns contact exports into normalized contact records.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/contacts-merger/pkg/contact"
	"github.com/hazyhaar/contacts-merger/pkg/normalize"
)

var (
	// ErrUnreadable means the file could not be opened or decoded.
	ErrUnreadable = errors.New("unreadable input file")
	// ErrFormat means the file has no usable header or misses required columns.
	ErrFormat = errors.New("unrecognized input format")
)

// Env carries what readers need to normalize rows.
type Env struct {
	Phones *normalize.Phone
	Groups *normalize.Groups
	// FallbackEncoding decodes files that are neither UTF-8 nor carry a BOM.
	FallbackEncoding string
	MSSQL            MSSQLColumns
	Logger           *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Reader parses one export format.
type Reader interface {
	// ID returns the unique identifier of this reader (e.g. "google-csv").
	ID() string
	// Source returns the provenance recorded on every record.
	Source() contact.Source
	// Description returns a human-readable description.
	Description() string
	// Read parses path. Only I/O and structural problems are errors;
	// per-row problems are attached to the records.
	Read(ctx context.Context, path string, env *Env) ([]contact.Record, error)
}

var (
	registryMu sync.RWMutex
	readers    = make(map[string]Reader)
)

// Register adds a reader to the global registry.
func Register(r Reader) {
	registryMu.Lock()
	defer registryMu.Unlock()
	readers[r.ID()] = r
}

// Get returns a registered reader by ID, or an error if not found.
func Get(id string) (Reader, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := readers[id]
	if !ok {
		return nil, fmt.Errorf("unknown reader: %q", id)
	}
	return r, nil
}

// All returns all registered readers sorted by ID.
func All() []Reader {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Reader, 0, len(readers))
	for _, r := range readers {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
