package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <cache>",
	Short: "print commit head, secondary count and map size for a cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		c, err := m.OpenRo(args[0])
		if err != nil {
			return fmt.Errorf("ridgectl: open %q: %w", args[0], err)
		}

		s := c.Stats()
		fmt.Printf("cache:            %s\n", c.Name())
		fmt.Printf("commit_head:      %d\n", s.CommitHead)
		fmt.Printf("secondaries:      %d\n", s.NumSecondaries)
		if s.MaxMapSize > 0 {
			fmt.Printf("max_map_size:     %s\n", humanize.Bytes(uint64(s.MaxMapSize)))
		} else {
			fmt.Printf("max_map_size:     unbounded\n")
		}
		return nil
	},
}
