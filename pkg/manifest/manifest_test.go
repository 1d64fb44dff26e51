package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socketsecurity/sockpatch/pkg/types"
)

const testUUID = "b3a5c9a2-5f3e-4b7a-9c1d-2e8f4a6b0c3d"

func writeManifest(t *testing.T, root, content string) {
	t.Helper()
	dir := filepath.Join(root, DirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(content), 0o644))
}

const validManifest = `{
  "patches": {
    "npm/lodash@4.17.21": {
      "exportedAt": "2024-06-01T00:00:00Z",
      "uuid": "` + testUUID + `",
      "files": {
        "lodash.js": {
          "beforeHash": "sha256-qUiQTy8PR5uPgZdpSzAYSw0u0cHNKh7A+4XSmaGSpEc=",
          "afterHash": "git-sha256-473a0f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"
        }
      },
      "status": "downloaded"
    }
  }
}`

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, validManifest)

	store, err := Load(root)
	require.NoError(t, err)

	rec, ok := store.Find("npm/lodash@4.17.21")
	require.True(t, ok)
	assert.Equal(t, types.StatusDownloaded, rec.Status)
	assert.Equal(t, testUUID, rec.UUID)
	assert.Len(t, rec.Files, 1)

	_, ok = store.Find("npm/express@4.18.0")
	assert.False(t, ok)

	assert.Equal(t, map[string]bool{testUUID: true}, store.UUIDs())
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadInvalidJSON(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"patches": {`)

	_, err := Load(root)
	var jsonErr *JSONError
	require.ErrorAs(t, err, &jsonErr)

	// JSON errors and schema errors must stay distinguishable.
	var schemaErr *SchemaError
	assert.False(t, errors.As(err, &schemaErr))
}

func TestLoadSchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing patches object", `{}`},
		{"unknown status", `{"patches":{"npm/a@1.0.0":{"exportedAt":"x","files":{"a.js":{"beforeHash":"sha256-aa","afterHash":"sha256-bb"}},"status":"pending"}}}`},
		{"malformed uuid", `{"patches":{"npm/a@1.0.0":{"exportedAt":"x","uuid":"not-a-uuid","files":{"a.js":{"beforeHash":"sha256-aa","afterHash":"sha256-bb"}}}}}`},
		{"eligible record without files", `{"patches":{"npm/a@1.0.0":{"exportedAt":"x","files":{}}}}`},
		{"unrecognized before hash", `{"patches":{"npm/a@1.0.0":{"exportedAt":"x","files":{"a.js":{"beforeHash":"bogus","afterHash":"sha256-bb"}}}}}`},
		{"unrecognized after hash", `{"patches":{"npm/a@1.0.0":{"exportedAt":"x","files":{"a.js":{"beforeHash":"sha256-aa","afterHash":"md5-zz"}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeManifest(t, root, tt.content)

			_, err := Load(root)
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
		})
	}
}

func TestLoadAbsentStatusIsEligible(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"patches":{"npm/a@1.0.0":{"exportedAt":"x","files":{"a.js":{"beforeHash":"sha256-aa","afterHash":"sha256-bb"}}}}}`)

	store, err := Load(root)
	require.NoError(t, err)

	rec, ok := store.Find("npm/a@1.0.0")
	require.True(t, ok)
	assert.True(t, rec.Eligible())
}

func TestLoadReadError(t *testing.T) {
	origReadFile := readFile
	defer func() { readFile = origReadFile }()

	readFile = func(string) ([]byte, error) {
		return nil, os.ErrPermission
	}

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestUpdateAndWrite(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, validManifest)

	store, err := Load(root)
	require.NoError(t, err)

	ok := store.Update("npm/lodash@4.17.21", func(r *types.PatchRecord) {
		r.Status = types.StatusApplied
		r.AppliedAt = "2024-06-02T00:00:00Z"
		r.AppliedTo = []string{"node_modules/lodash"}
	})
	require.True(t, ok)
	assert.False(t, store.Update("npm/nope@0.0.1", func(*types.PatchRecord) {}))

	require.NoError(t, store.Write())

	// Reload from disk and verify the transition survived a round trip.
	reloaded, err := Load(root)
	require.NoError(t, err)
	rec, ok := reloaded.Find("npm/lodash@4.17.21")
	require.True(t, ok)
	assert.Equal(t, types.StatusApplied, rec.Status)
	assert.Equal(t, []string{"node_modules/lodash"}, rec.AppliedTo)

	// Field names on disk match the wire schema exactly.
	data, err := os.ReadFile(Path(root))
	require.NoError(t, err)
	var raw map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	entry := raw["patches"]["npm/lodash@4.17.21"]
	assert.Contains(t, entry, "appliedAt")
	assert.Contains(t, entry, "appliedTo")
	assert.Equal(t, "applied", entry["status"])
}

func TestWriteCleanStoreIsNoop(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, validManifest)

	store, err := Load(root)
	require.NoError(t, err)

	before, err := os.ReadFile(Path(root))
	require.NoError(t, err)

	require.NoError(t, store.Write())

	after, err := os.ReadFile(Path(root))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
