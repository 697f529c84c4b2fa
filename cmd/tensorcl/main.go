// Command tensorcl drives the GPU-accelerated tensor evaluator from
// the command line: list OpenCL devices, run a canned benchmark graph,
// or run a built-in variable-accumulation graph with optional
// checkpointing.
//
// Usage:
//
//	tensorcl devices
//	tensorcl bench --device 0
//	tensorcl run --device 0 --checkpoint-dir ./checkpoints
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tensorcl",
		Short: "GPU-accelerated tensor graph evaluator",
		Long: "tensorcl walks a symbolic tensor-computation graph, dispatching\n" +
			"OpenCL kernels per node and returning host-side results.",
	}
	root.AddCommand(newDevicesCmd())
	root.AddCommand(newBenchCmd())
	root.AddCommand(newRunCmd())
	return root
}
