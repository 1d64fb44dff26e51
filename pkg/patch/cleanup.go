package patch

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/socketsecurity/sockpatch/pkg/backup"
)

// For testing.
var removeBackups = (*backup.Manager).Cleanup

// CleanupMode selects which backup state an apply run's cleanup removes.
type CleanupMode string

const (
	// CleanupSpecific removes backups for one named patch uuid.
	CleanupSpecific CleanupMode = "specific"
	// CleanupAll removes backups for every uuid found on disk.
	CleanupAll CleanupMode = "all"
	// CleanupOrphaned removes only backups whose uuid no longer appears in
	// the manifest. A uuid the manifest still references is never touched,
	// even when its record is failed.
	CleanupOrphaned CleanupMode = "orphaned"
)

// CleanupResult reports what a cleanup pass removed and what drift it saw.
type CleanupResult struct {
	Removed []string `json:"removed"`
	// Orphans lists backup uuids absent from the manifest, as observed
	// before removal. Informational, never fatal.
	Orphans []string `json:"orphans,omitempty"`
}

// Cleanup removes backup state according to mode. Individual removal
// failures are aggregated and cleanup continues past them.
func (a *Applier) Cleanup(mode CleanupMode, patchUUID string) (*CleanupResult, error) {
	result := &CleanupResult{}

	onDisk, err := a.backups.List()
	if err != nil {
		return nil, err
	}

	// Orphan drift is worth reporting whenever the manifest is at hand.
	if a.store != nil {
		referenced := a.store.UUIDs()
		for _, u := range onDisk {
			if !referenced[u] {
				result.Orphans = append(result.Orphans, u)
			}
		}
		sort.Strings(result.Orphans)
		for _, u := range result.Orphans {
			log.Warnf("Orphaned backup detected: %s is not referenced by the manifest", u)
		}
	}

	var targets []string
	switch mode {
	case CleanupSpecific:
		if patchUUID == "" {
			return nil, fmt.Errorf("specific cleanup requires a uuid")
		}
		targets = []string{patchUUID}
	case CleanupAll:
		targets = onDisk
	case CleanupOrphaned:
		if a.store == nil {
			return nil, fmt.Errorf("orphaned cleanup requires a manifest")
		}
		targets = result.Orphans
	default:
		return nil, fmt.Errorf("unknown cleanup mode %q", mode)
	}

	var errs *multierror.Error
	for _, u := range targets {
		if err := removeBackups(a.backups, u); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		result.Removed = append(result.Removed, u)
	}
	sort.Strings(result.Removed)

	log.Infof("Cleanup (%s) removed backup state for %d patches", mode, len(result.Removed))
	return result, errs.ErrorOrNil()
}
