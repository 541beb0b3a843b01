package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mushimuro/agent-company/internal/config"
	"github.com/mushimuro/agent-company/internal/db"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize agentco in the current directory",
		Long: `Create the .agentco directory with a default configuration and an
empty task database. Safe to re-run; refuses to overwrite an existing
configuration unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(config.AgentcoDir, config.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			if err := cfg.SaveTo(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			// Opening the database applies migrations.
			d, err := db.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("initialize database: %w", err)
			}
			defer d.Close()

			fmt.Printf("Initialized agentco in %s\n", config.AgentcoDir)
			fmt.Printf("  config:   %s\n", path)
			fmt.Printf("  database: %s\n", cfg.Database.Path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing configuration")
	return cmd
}
