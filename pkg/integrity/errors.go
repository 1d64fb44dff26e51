package integrity

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when a hash string matches none of the
// formats the codec understands.
var ErrUnsupportedFormat = errors.New("unsupported hash format")

// ErrUnsupportedAlgorithm is returned when an ssri computation is requested
// for an algorithm other than sha256 or sha512.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// IntegrityError reports content that does not match its expected hash.
type IntegrityError struct {
	Hash  string // the expected hash string
	Stage string // what was being checked, e.g. "before", "after", "convert"
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("content does not match %s hash %q", e.Stage, e.Hash)
}
