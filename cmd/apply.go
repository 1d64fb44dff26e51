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
	applyDryRun bool
	applyStrict bool
)

var applyCmd = &cobra.Command{
	Use:   "apply [selector...]",
	Short: "Apply downloaded patches to the installed dependency tree",
	Long: `Apply validates and applies downloaded patch records. Selectors are
purls (pkg:npm/lodash@4.17.21) or package ids (npm/lodash@4.17.21); with no
selectors every eligible record is a candidate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd := viper.GetString("cwd")

		store, err := manifest.Load(cwd)
		if err != nil {
			return describeManifestError(err)
		}

		applier := patch.NewApplier(cwd, store, backup.NewManager(cwd))
		applier.Concurrency = viper.GetInt("concurrency")

		result, err := applier.Apply(cmd.Context(), args, applyDryRun)
		if err != nil {
			return err
		}

		for _, id := range result.Patched {
			if result.DryRun {
				log.Infof("Would patch %s", id)
			} else {
				log.Infof("Patched %s", id)
			}
		}
		for _, f := range result.Failures {
			log.Warnf("Failed %s: %s", f.ID, f.Reason)
		}
		if applyStrict && len(result.Failures) > 0 {
			return fmt.Errorf("%d of %d selected patches failed", len(result.Failures), len(result.Failures)+len(result.Patched))
		}
		return nil
	},
}

// describeManifestError keeps the two manifest failure kinds user
// distinguishable: a corrupt file needs different action than a schema drift.
func describeManifestError(err error) error {
	var jsonErr *manifest.JSONError
	var schemaErr *manifest.SchemaError
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		return fmt.Errorf("no patches downloaded for this project: %w", err)
	case errors.As(err, &jsonErr):
		return fmt.Errorf("patch manifest is corrupt, re-download patches: %w", err)
	case errors.As(err, &schemaErr):
		return fmt.Errorf("patch manifest has an unsupported structure, upgrade sockpatch or re-download patches: %w", err)
	}
	return err
}

func init() {
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "validate and report without writing anything")
	applyCmd.Flags().BoolVar(&applyStrict, "strict", false, "exit non-zero if any selected patch fails")
	rootCmd.AddCommand(applyCmd)
}
