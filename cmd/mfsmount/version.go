package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func versionMain(_ *cobra.Command, _ []string) error {
	fmt.Println(version)
	return nil
}

var versionCommand = &cobra.Command{
	Use:          "version",
	Short:        "Show version information",
	Args:         disallowArguments,
	RunE:         versionMain,
	SilenceUsage: true,
}

var versionConfiguration struct {
	help bool
}

func init() {
	flags := versionCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&versionConfiguration.help, "help", "h", false, "Show help information")
}
