package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sockpatch version",
	Run: func(*cobra.Command, []string) {
		fmt.Println("sockpatch", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
