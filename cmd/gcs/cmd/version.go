package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version represents the current version, set at build time
var (
	Version   = "Version"
	BuildTime = "BuildTime"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of gcs",
	Long:  `All software has versions. This is gcs's`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionString())
	},
}

func versionString() string {
	return fmt.Sprintf("%s %s", Version, BuildTime)
}
