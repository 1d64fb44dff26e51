package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/socketsecurity/sockpatch/pkg/backup"
	"github.com/socketsecurity/sockpatch/pkg/manifest"
	"github.com/socketsecurity/sockpatch/pkg/patch"
)

var (
	cleanupUUID     string
	cleanupAll      bool
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove backup state for applied patches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mode, err := cleanupMode()
		if err != nil {
			return err
		}
		cwd := viper.GetString("cwd")

		// The manifest is required for orphan detection but cleanup of a
		// known uuid (or everything) works without one.
		store, err := manifest.Load(cwd)
		if err != nil {
			if mode == patch.CleanupOrphaned || !errors.Is(err, manifest.ErrNotFound) {
				return describeManifestError(err)
			}
			store = nil
		}

		applier := patch.NewApplier(cwd, store, backup.NewManager(cwd))
		result, err := applier.Cleanup(mode, cleanupUUID)
		if err != nil {
			return err
		}
		for _, u := range result.Removed {
			log.Infof("Removed backups for %s", u)
		}
		return nil
	},
}

func cleanupMode() (patch.CleanupMode, error) {
	set := 0
	for _, b := range []bool{cleanupUUID != "", cleanupAll, cleanupOrphaned} {
		if b {
			set++
		}
	}
	if set != 1 {
		return "", fmt.Errorf("exactly one of --uuid, --all, --orphaned is required")
	}
	switch {
	case cleanupAll:
		return patch.CleanupAll, nil
	case cleanupOrphaned:
		return patch.CleanupOrphaned, nil
	}
	return patch.CleanupSpecific, nil
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupUUID, "uuid", "", "remove backups for one patch uuid")
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "remove backups for every patch")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "remove backups no longer referenced by the manifest")
	rootCmd.AddCommand(cleanupCmd)
}
