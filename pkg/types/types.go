package types

import "time"

// Status is the lifecycle state of a patch record. A record with no status
// has been persisted by an older downloader and is treated as downloaded.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known lifecycle states or empty.
func (s Status) Valid() bool {
	switch s {
	case "", StatusDownloaded, StatusApplied, StatusFailed:
		return true
	}
	return false
}

// FileIntegrity holds the expected content hashes for one patched file,
// before and after the patch. Hash strings are either ssri-style
// ("sha256-<base64>", "sha512-<base64>") or legacy "git-sha256-<hex>".
type FileIntegrity struct {
	BeforeHash string `json:"beforeHash"`
	AfterHash  string `json:"afterHash"`
}

// Vulnerability describes one CVE group a patch addresses.
type Vulnerability struct {
	CVEs             []string `json:"cves,omitempty"`
	Summary          string   `json:"summary,omitempty"`
	Severity         string   `json:"severity,omitempty"`
	Description      string   `json:"description,omitempty"`
	PatchExplanation string   `json:"patchExplanation,omitempty"`
}

// PatchRecord is one entry in the patch manifest: a vetted source patch for
// a single package version, keyed in the manifest by its package id
// (e.g. "npm/lodash@4.17.21").
type PatchRecord struct {
	Description     string                   `json:"description,omitempty"`
	ExportedAt      string                   `json:"exportedAt"`
	Files           map[string]FileIntegrity `json:"files"`
	License         string                   `json:"license,omitempty"`
	Tier            string                   `json:"tier,omitempty"`
	UUID            string                   `json:"uuid,omitempty"`
	Vulnerabilities map[string]Vulnerability `json:"vulnerabilities,omitempty"`
	Status          Status                   `json:"status,omitempty"`
	DownloadedAt    string                   `json:"downloadedAt,omitempty"`
	AppliedAt       string                   `json:"appliedAt,omitempty"`
	AppliedTo       []string                 `json:"appliedTo,omitempty"`
}

// Eligible reports whether the record is a candidate for apply. Absent
// status means the downloader persisted the record before any lifecycle
// transition, which counts as downloaded.
func (r *PatchRecord) Eligible() bool {
	return r.Status == "" || r.Status == StatusDownloaded
}

// PatchManifest is the persisted ledger of patch records for a project,
// stored at .socket/manifest.json.
type PatchManifest struct {
	Patches map[string]PatchRecord `json:"patches"`
}

// Failure reports why a single patch record was not applied.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ApplyResult is returned to the CLI layer after an apply run. Patched
// lists package ids patched (or, in dry-run, that would be patched);
// Failures lists per-record errors. Manifest-level errors are returned
// as a run error instead, never folded in here.
type ApplyResult struct {
	Patched  []string  `json:"patched"`
	Failures []Failure `json:"failures"`
	DryRun   bool      `json:"dryRun,omitempty"`
}

// Timestamp formats t the way the manifest stores times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
