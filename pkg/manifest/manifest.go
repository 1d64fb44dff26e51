// Package manifest owns read-modify-write access to the persisted patch
// ledger at .socket/manifest.json. A Store handle is loaded once per run,
// mutated in memory, and flushed with a single atomic whole-file replace,
// so concurrent patch workers never interleave partial writes.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/socketsecurity/sockpatch/pkg/integrity"
	"github.com/socketsecurity/sockpatch/pkg/types"
	"github.com/socketsecurity/sockpatch/pkg/utils"
)

const (
	// DirName is the project-relative directory holding patch state.
	DirName = ".socket"

	fileName = "manifest.json"
)

// For testing.
var readFile = os.ReadFile

// Path returns the manifest location for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, fileName)
}

// Store is an explicit handle over one project's manifest. All mutation
// goes through the handle; Write flushes the accumulated state atomically.
type Store struct {
	path string

	mu    sync.Mutex
	doc   types.PatchManifest
	dirty bool
}

// Load reads and validates the manifest for projectRoot. It distinguishes
// three failure kinds: ErrNotFound (no manifest), *JSONError (unparsable),
// and *SchemaError (parsed but structurally wrong).
func Load(projectRoot string) (*Store, error) {
	path := Path(projectRoot)
	data, err := readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var doc types.PatchManifest
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &JSONError{Path: path, Err: err}
	}
	if err := validate(path, &doc); err != nil {
		return nil, err
	}

	log.WithField("path", path).Debugf("Loaded manifest with %d patch records", len(doc.Patches))
	return &Store{path: path, doc: doc}, nil
}

// validate checks the parsed document against the manifest schema. Records
// that are still eligible to apply must carry a non-empty file map with
// recognizable hash strings; terminal records get the same hash checks so a
// corrupted ledger is caught before any apply decision.
func validate(path string, doc *types.PatchManifest) error {
	if doc.Patches == nil {
		return &SchemaError{Path: path, Reason: "missing required \"patches\" object"}
	}
	for id, rec := range doc.Patches {
		if !rec.Status.Valid() {
			return &SchemaError{Path: path, Record: id, Reason: fmt.Sprintf("unknown status %q", rec.Status)}
		}
		if rec.UUID != "" {
			if _, err := uuid.Parse(rec.UUID); err != nil {
				return &SchemaError{Path: path, Record: id, Reason: fmt.Sprintf("malformed uuid %q", rec.UUID)}
			}
		}
		if rec.Eligible() && len(rec.Files) == 0 {
			return &SchemaError{Path: path, Record: id, Reason: "eligible record has no files"}
		}
		for file, fi := range rec.Files {
			if integrity.DetectFormat(fi.BeforeHash) == integrity.FormatUnknown {
				return &SchemaError{Path: path, Record: id, Reason: fmt.Sprintf("file %q has unrecognized beforeHash", file)}
			}
			if integrity.DetectFormat(fi.AfterHash) == integrity.FormatUnknown {
				return &SchemaError{Path: path, Record: id, Reason: fmt.Sprintf("file %q has unrecognized afterHash", file)}
			}
		}
	}
	return nil
}

// Find returns a copy of the record for a package id.
func (s *Store) Find(id string) (types.PatchRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Patches[id]
	return rec, ok
}

// Records returns a snapshot of all records keyed by package id.
func (s *Store) Records() map[string]types.PatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.PatchRecord, len(s.doc.Patches))
	for id, rec := range s.doc.Patches {
		out[id] = rec
	}
	return out
}

// UUIDs returns the set of patch UUIDs referenced by the manifest. Records
// without a uuid (older manifests) contribute nothing.
func (s *Store) UUIDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for _, rec := range s.doc.Patches {
		if rec.UUID != "" {
			out[rec.UUID] = true
		}
	}
	return out
}

// Update applies fn to the named record in memory and marks the store
// dirty. Safe for concurrent use; the write-back itself happens once, in
// Write. Returns false if the record does not exist.
func (s *Store) Update(id string, fn func(*types.PatchRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.Patches[id]
	if !ok {
		return false
	}
	fn(&rec)
	s.doc.Patches[id] = rec
	s.dirty = true
	return true
}

// Write flushes the manifest with a temp-file-then-rename replace so a
// partially-written ledger is never observable. A clean store is a no-op.
func (s *Store) Write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	if err := utils.EnsureDir(filepath.Dir(s.path)); err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	s.dirty = false

	log.WithField("path", s.path).Debug("Manifest written back")
	return nil
}
