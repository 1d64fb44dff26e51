package patch

import "errors"

// ErrPackageNotFound is returned when a patch record's package cannot be
// located in the project's installed dependency tree.
var ErrPackageNotFound = errors.New("package not installed")

// ErrNotStaged is returned when a record's patched content has not been
// staged by the downloader.
var ErrNotStaged = errors.New("patched content not staged")

// ErrNoUUID is returned for records persisted without a uuid; backups and
// staged content are keyed by uuid, so such records must be re-downloaded
// before they can apply.
var ErrNoUUID = errors.New("record has no uuid")

// ErrUnsupportedEcosystem is returned for package ids outside the npm
// ecosystem.
var ErrUnsupportedEcosystem = errors.New("unsupported package ecosystem")
