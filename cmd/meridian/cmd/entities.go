package cmd

import (
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/meridian-data/meridian/internal/config"
)

// newEntitiesCmd builds the entities command, which validates the
// configuration and prints the declared entity types.
func newEntitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "Validate configuration and print the declared entity types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(cfg.Entities)
			if err != nil {
				return err
			}
			cmd.Print(string(out))
			return nil
		},
	}
}
