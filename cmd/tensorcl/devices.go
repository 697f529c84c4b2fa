package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orneryd/tensorcl/pkg/opencl"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List enumerated OpenCL devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := opencl.ListDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("no devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("[%d] %s (%s, %s)\n", d.Index, d.Name, d.Vendor, d.Backend)
			}
			return nil
		},
	}
}
