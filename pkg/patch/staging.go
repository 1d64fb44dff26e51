package patch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/socketsecurity/sockpatch/pkg/manifest"
	"github.com/socketsecurity/sockpatch/pkg/utils"
)

// The downloader stages each record's patched file bytes under
// .socket/blobs/<uuid>/, one blob per file, named by the digest of the
// file's record-relative path. The applier only ever reads this area; it
// never fetches.

func blobDir(projectRoot, patchUUID string) string {
	return filepath.Join(projectRoot, manifest.DirName, "blobs", patchUUID)
}

// StagedPath returns where the patched content for one record file lives.
func StagedPath(projectRoot, patchUUID, relFile string) string {
	name := digest.SHA256.FromString(relFile).Encoded()
	return filepath.Join(blobDir(projectRoot, patchUUID), name)
}

// ReadStaged loads the staged patched bytes for one record file.
func ReadStaged(projectRoot, patchUUID, relFile string) ([]byte, error) {
	data, err := os.ReadFile(StagedPath(projectRoot, patchUUID, relFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotStaged, relFile)
		}
		return nil, fmt.Errorf("reading staged content for %s: %w", relFile, err)
	}
	return data, nil
}

// Stage writes patched content into the staging area. It exists for the
// downloader collaborator and for tests; Apply never calls it.
func Stage(projectRoot, patchUUID, relFile string, content []byte) error {
	if err := utils.EnsureDir(blobDir(projectRoot, patchUUID)); err != nil {
		return err
	}
	return utils.WriteFileAtomic(StagedPath(projectRoot, patchUUID, relFile), content, 0o644)
}
