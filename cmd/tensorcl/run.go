package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orneryd/tensorcl/pkg/checkpoint"
	"github.com/orneryd/tensorcl/pkg/config"
	"github.com/orneryd/tensorcl/pkg/graph"
	"github.com/orneryd/tensorcl/pkg/tensorcl"
)

func newRunCmd() *cobra.Command {
	var deviceIndex int
	var checkpointDir string
	var sessionID string
	var freshSession bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a small built-in variable-accumulation graph, checkpointing the result",
		Long: "run demonstrates the Evaluator against a tiny graph since graph\n" +
			"construction and YAML loading are external collaborators this module\n" +
			"does not implement: a Variable seeded at 1.0, incremented by a fed\n" +
			"placeholder, with its final value checkpointed to --checkpoint-dir.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if freshSession {
				sessionID = config.NewSessionID()
				fmt.Printf("session -> %s\n", sessionID)
			}

			store, err := checkpoint.Open(checkpointDir)
			if err != nil {
				return fmt.Errorf("open checkpoint store: %w", err)
			}
			defer store.Close()

			eval, err := tensorcl.Open(
				tensorcl.WithDeviceIndex(deviceIndex),
				tensorcl.WithCheckpointStore(store, sessionID),
			)
			if err != nil {
				return err
			}
			defer eval.Close()

			counter := &graph.Variable{
				Tensor: graph.Tensor{Name: "counter", DataType: graph.Float32, DeclShape: graph.Shape{}},
				Initial: float32(1.0),
			}
			restored, err := eval.LoadCheckpoint(counter.Name)
			if err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			}
			if restored {
				fmt.Println("restored counter from checkpoint")
			}

			step := &graph.Placeholder{Tensor: graph.Tensor{Name: "step", DataType: graph.Float32, DeclShape: graph.Shape{}}}
			incr := &graph.Tensor{
				Name: "counter_incr", Operation: graph.OpAssignAdd, DataType: graph.Float32,
				Items: []any{counter, step},
			}

			ctx := eval.NewRunContext()
			ctx.Feed[step.Name] = float32(1.0)
			result, err := eval.Run(incr, ctx)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			fmt.Printf("counter -> %v\n", result)

			if err := eval.SaveCheckpoint(counter.Name); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&deviceIndex, "device", 0, "device index to open")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "checkpoint store directory (empty = in-memory)")
	cmd.Flags().StringVar(&sessionID, "session", "default", "checkpoint session identifier")
	cmd.Flags().BoolVar(&freshSession, "fresh-session", false, "generate a new random session identifier instead of using --session")
	return cmd
}
