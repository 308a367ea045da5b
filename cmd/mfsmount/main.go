// Command mfsmount projects a remote drive account onto a local directory
// over FUSE.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// version is set at release time; left at "dev" for local builds.
var version = "dev"

// warning prints a warning message to standard error.
func warning(message string) {
	fmt.Fprintln(color.Error, color.YellowString("Warning:"), message)
}

// fatal prints an error message to standard error and terminates the
// process with a nonzero exit code.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// mainify wraps a RunE-shaped entry point so deferred cleanup in the entry
// point still runs before the process exits on error.
func mainify(entry func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(command *cobra.Command, arguments []string) {
		if err := entry(command, arguments); err != nil {
			fatal(err)
		}
	}
}

// disallowArguments rejects positional arguments with a clearer message than
// cobra.NoArgs gives.
func disallowArguments(_ *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("command does not accept arguments")
	}
	return nil
}

func rootMain(command *cobra.Command, _ []string) error {
	return command.Help()
}

var rootCommand = &cobra.Command{
	Use:          "mfsmount",
	Short:        "Mount a remote drive account as a local filesystem",
	Args:         disallowArguments,
	RunE:         rootMain,
	SilenceUsage: true,
}

var rootConfiguration struct {
	help bool
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	rootCommand.AddCommand(
		mountCommand,
		unmountCommand,
		statusCommand,
		versionCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
