package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var catchupTimeout time.Duration

var catchupCmd = &cobra.Command{
	Use:   "catchup <cache>",
	Short: "block until every secondary index of a cache has caught up to its commit head",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		if _, err := m.OpenRo(args[0]); err != nil {
			return fmt.Errorf("ridgectl: open %q: %w", args[0], err)
		}
		m.Wake(args[0])

		ctx, cancel := context.WithTimeout(context.Background(), catchupTimeout)
		defer cancel()
		if err := m.WaitUntilCatchup(ctx); err != nil {
			return fmt.Errorf("ridgectl: wait for catch-up: %w", err)
		}
		fmt.Println("caught up")
		return nil
	},
}

func init() {
	catchupCmd.Flags().DurationVar(&catchupTimeout, "timeout", 30*time.Second, "how long to wait for catch-up before giving up")
}
