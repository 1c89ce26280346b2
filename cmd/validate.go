package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomcloud/loom/internal/digraph"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a pipeline definition",
		Long:  `Parse a YAML pipeline definition and report structural errors.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			def, err := digraph.ParseYAML(data)
			if err != nil {
				return err
			}
			for _, id := range digraph.Orphans(def.Nodes, def.Edges) {
				cmd.Printf("warning: node %s has no edges\n", id)
			}
			cmd.Printf("%s is valid: %d nodes, %d edges\n",
				args[0], len(def.Nodes), len(def.Edges))
			return nil
		},
	}
}
