// Package backup snapshots original file bytes before a patch mutates them
// and restores them on rollback. State lives under
// <projectRoot>/.socket/backups/<uuid>/, one directory per patch, holding an
// index.json plus one zstd-compressed snapshot per file. A backup exists iff
// the corresponding file has been patched and not yet restored or cleaned.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"

	"github.com/socketsecurity/sockpatch/pkg/manifest"
	"github.com/socketsecurity/sockpatch/pkg/utils"
)

const indexFile = "index.json"

// ErrNoSnapshot is returned by Restore when no snapshot exists for the
// (uuid, path) pair.
var ErrNoSnapshot = errors.New("no snapshot for file")

// Entry describes one snapshotted file in a patch's backup index.
type Entry struct {
	Path   string        `json:"path"`   // the file the snapshot restores to
	File   string        `json:"file"`   // snapshot file name inside the uuid dir
	Size   int64         `json:"size"`   // original (uncompressed) size
	Digest digest.Digest `json:"digest"` // digest of the original bytes
}

// Manager stores and restores snapshots for one project.
type Manager struct {
	root string // <projectRoot>/.socket/backups
}

func NewManager(projectRoot string) *Manager {
	return &Manager{root: filepath.Join(projectRoot, manifest.DirName, "backups")}
}

func (m *Manager) patchDir(patchUUID string) string {
	return filepath.Join(m.root, patchUUID)
}

// snapshotName keys snapshot files by the digest of the restore path, which
// keeps arbitrary relative paths out of the directory namespace.
func snapshotName(path string) string {
	return digest.SHA256.FromString(path).Encoded() + ".zst"
}

func (m *Manager) loadIndex(patchUUID string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(m.patchDir(patchUUID), indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup index for %s: %w", patchUUID, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding backup index for %s: %w", patchUUID, err)
	}
	return entries, nil
}

func (m *Manager) writeIndex(patchUUID string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding backup index for %s: %w", patchUUID, err)
	}
	return utils.WriteFileAtomic(filepath.Join(m.patchDir(patchUUID), indexFile), data, 0o644)
}

// Snapshot persists a recoverable copy of original before path is mutated
// under the given patch identity. A second snapshot for the same (uuid,
// path) pair is a no-op: the first copy is the pre-mutation truth.
func (m *Manager) Snapshot(patchUUID, path string, original []byte) error {
	entries, err := m.loadIndex(patchUUID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Path == path {
			log.WithField("uuid", patchUUID).Debugf("Snapshot for %s already exists, keeping original", path)
			return nil
		}
	}

	dir := m.patchDir(patchUUID)
	if err := utils.EnsureDir(dir); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("initializing compressor: %w", err)
	}
	compressed := enc.EncodeAll(original, nil)
	enc.Close()

	name := snapshotName(path)
	if err := utils.WriteFileAtomic(filepath.Join(dir, name), compressed, 0o644); err != nil {
		return fmt.Errorf("writing snapshot for %s: %w", path, err)
	}

	entries = append(entries, Entry{
		Path:   path,
		File:   name,
		Size:   int64(len(original)),
		Digest: digest.FromBytes(original),
	})
	return m.writeIndex(patchUUID, entries)
}

// Restore writes the snapshot bytes back to the file they were taken from,
// verifying the snapshot digest first so a corrupted backup never silently
// replaces content.
func (m *Manager) Restore(patchUUID, path string) error {
	entries, err := m.loadIndex(patchUUID)
	if err != nil {
		return err
	}
	var entry *Entry
	for i := range entries {
		if entries[i].Path == path {
			entry = &entries[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("%w: %s under patch %s", ErrNoSnapshot, path, patchUUID)
	}

	compressed, err := os.ReadFile(filepath.Join(m.patchDir(patchUUID), entry.File))
	if err != nil {
		return fmt.Errorf("reading snapshot for %s: %w", path, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("initializing decompressor: %w", err)
	}
	defer dec.Close()
	original, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("decompressing snapshot for %s: %w", path, err)
	}
	if got := digest.FromBytes(original); got != entry.Digest {
		return fmt.Errorf("snapshot for %s is corrupt: digest %s, expected %s", path, got, entry.Digest)
	}

	if err := utils.WriteFileAtomic(path, original, 0o644); err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}
	log.WithField("uuid", patchUUID).Infof("Restored %s from backup", path)
	return nil
}

// Cleanup removes all snapshots tied to a patch uuid. Calling it for a uuid
// with no backups is a no-op.
func (m *Manager) Cleanup(patchUUID string) error {
	if err := os.RemoveAll(m.patchDir(patchUUID)); err != nil {
		return fmt.Errorf("removing backups for %s: %w", patchUUID, err)
	}
	return nil
}

// List enumerates patch UUIDs that have on-disk backup state, independent
// of the manifest. Entries that do not parse as UUIDs are ignored.
func (m *Manager) List() ([]string, error) {
	dirents, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup root %s: %w", m.root, err)
	}
	var uuids []string
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		if _, err := uuid.Parse(d.Name()); err != nil {
			continue
		}
		uuids = append(uuids, d.Name())
	}
	return uuids, nil
}

// Entries returns the backup index for a patch uuid, empty if none exists.
func (m *Manager) Entries(patchUUID string) ([]Entry, error) {
	return m.loadIndex(patchUUID)
}
