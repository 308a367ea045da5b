package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
)

func unmountMain(_ *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return fmt.Errorf("unmount requires exactly one argument: the mount point")
	}
	mountPoint := arguments[0]

	if err := syscall.Unmount(mountPoint, 0); err == nil {
		fmt.Println("Unmounted", mountPoint)
		return nil
	}

	warning(fmt.Sprintf("normal unmount of %s failed, trying lazy unmount", mountPoint))
	if err := syscall.Unmount(mountPoint, syscall.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", mountPoint, err)
	}
	fmt.Println("Unmounted", mountPoint, "(lazy)")
	return nil
}

var unmountCommand = &cobra.Command{
	Use:          "unmount <mount-point>",
	Short:        "Unmount a previously mounted directory",
	Args:         cobra.ExactArgs(1),
	RunE:         unmountMain,
	SilenceUsage: true,
}

var unmountConfiguration struct {
	help bool
}

func init() {
	flags := unmountCommand.Flags()
	flags.SortFlags = false
	flags.BoolVarP(&unmountConfiguration.help, "help", "h", false, "Show help information")
}
