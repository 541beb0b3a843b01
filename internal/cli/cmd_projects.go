package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mushimuro/agent-company/internal/db"
)

// withDB opens the configured database and runs fn against it.
func withDB(fn func(ctx context.Context, d *db.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer d.Close()
	return fn(context.Background(), d)
}

// newProjectsCmd creates the projects command.
func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(ctx context.Context, d *db.DB) error {
				projects, err := d.ListProjects(ctx)
				if err != nil {
					return err
				}
				if len(projects) == 0 {
					fmt.Println("No projects yet. Create one through the API.")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tREPO\tCREATED")
				for _, p := range projects {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						p.ID, p.Name, p.RepoPath, p.CreatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			})
		},
	}
	return cmd
}
