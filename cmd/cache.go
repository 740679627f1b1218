package cmd

import (
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Descriptor cache commands",
	Long:  `Commands for computing the in-memory descriptor sets used by recognition.`,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
}
