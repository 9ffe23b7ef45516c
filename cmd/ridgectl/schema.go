package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema <cache>",
	Short: "print the stored schema and secondary index definitions for a cache",
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

		swi := c.Schema()
		fmt.Printf("cache %q, schema id %d\n", c.Name(), swi.Schema.ID)
		for _, f := range swi.Schema.Fields {
			nullable := ""
			if f.Nullable {
				nullable = " (nullable)"
			}
			fmt.Printf("  %-20s %s%s\n", f.Name, f.Type, nullable)
		}
		fmt.Printf("primary_index: %v\n", swi.Schema.PrimaryIndex)
		for i, idx := range swi.Indexes {
			fmt.Printf("secondary[%d]: %#v\n", i, idx)
		}
		return nil
	},
}
