package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/tensorcl"
)

func newBenchCmd() *cobra.Command {
	var deviceIndex int
	var n int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a fixed matmul+sum graph and report its result and elapsed time",
		RunE: func(cmd *cobra.Command, args []string) error {
			eval, err := tensorcl.Open(tensorcl.WithDeviceIndex(deviceIndex))
			if err != nil {
				return err
			}
			defer eval.Close()

			a := &graph.Tensor{
				Name: "bench_a", DataType: graph.Float32, DeclShape: graph.Shape{int64(n), int64(n)},
				Value: fill(n * n, 1.0), IsConst: true,
			}
			b := &graph.Tensor{
				Name: "bench_b", DataType: graph.Float32, DeclShape: graph.Shape{int64(n), int64(n)},
				Value: fill(n * n, 2.0), IsConst: true,
			}
			mm := &graph.Tensor{
				Name: "bench_matmul", Operation: graph.OpMatMul, DataType: graph.Float32,
				DeclShape: graph.Shape{int64(n), int64(n)}, Items: []any{a, b},
			}
			sum := &graph.Tensor{
				Name: "bench_sum", Operation: graph.OpSum, DataType: graph.Float32, Items: []any{mm},
			}

			start := time.Now()
			result, err := eval.Run(sum, eval.NewRunContext())
			if err != nil {
				return fmt.Errorf("bench run: %w", err)
			}
			fmt.Printf("matmul(%dx%d) + sum -> %v (%s)\n", n, n, result, time.Since(start))

			if digest := eval.Session.Kernels.DigestHex("gemm"); digest != "" {
				fmt.Printf("kernel gemm digest %s\n", digest)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&deviceIndex, "device", 0, "device index to open")
	cmd.Flags().IntVar(&n, "n", 64, "matrix dimension")
	return cmd
}

func fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
