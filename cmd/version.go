package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	buildMeta    string
	versionShort bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of sfreport",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		v := rootCmd.Version
		if versionShort {
			fmt.Println(v)
			return
		}
		if buildMeta != "" {
			fmt.Printf("sfreport %s (%s)\n", v, buildMeta)
		} else {
			fmt.Printf("sfreport %s\n", v)
		}
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
	rootCmd.AddCommand(versionCmd)
}
