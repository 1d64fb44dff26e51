// Package cmd wires the CLI surface. It only maps flags to the patch
// subsystem and results to exit codes; all policy lives under pkg/.
package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sockpatch",
	Short: "Apply vetted security patches to installed dependencies",
	Long: `sockpatch applies pre-built, cryptographically verified source patches
for vulnerable third-party packages into a project's installed dependency
tree, with per-patch rollback and a persisted patch ledger.`,
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRun: func(*cobra.Command, []string) {
		if viper.GetBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.sockpatch.yaml)")
	rootCmd.PersistentFlags().StringP("cwd", "C", ".", "project root to operate on")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	_ = viper.BindPFlag("cwd", rootCmd.PersistentFlags().Lookup("cwd"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".sockpatch")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("SOCKPATCH")
	viper.AutomaticEnv()
	viper.SetDefault("concurrency", 4)

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("config", viper.ConfigFileUsed()).Debug("Loaded config file")
	}
}
