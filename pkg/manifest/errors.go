package manifest

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the project has no .socket/manifest.json.
var ErrNotFound = errors.New("patch manifest not found")

// JSONError means the manifest file exists but is not valid JSON. It is
// distinct from SchemaError so callers can message "corrupt file" vs
// "well-formed but structurally wrong".
type JSONError struct {
	Path string
	Err  error
}

func (e *JSONError) Error() string {
	return fmt.Sprintf("invalid JSON in manifest %s: %v", e.Path, e.Err)
}

func (e *JSONError) Unwrap() error { return e.Err }

// SchemaError means the manifest parsed but does not conform to the patch
// manifest schema.
type SchemaError struct {
	Path   string
	Record string // offending record key, empty for top-level problems
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Record == "" {
		return fmt.Sprintf("manifest %s failed schema validation: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("manifest %s failed schema validation: record %q: %s", e.Path, e.Record, e.Reason)
}
