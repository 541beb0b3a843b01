package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mushimuro/agent-company/internal/db"
	"github.com/mushimuro/agent-company/internal/graph"
	"github.com/mushimuro/agent-company/internal/task"
)

// newTasksCmd creates the tasks command.
func newTasksCmd() *cobra.Command {
	var projectID string
	var readyOnly bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List a project's tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			return withDB(func(ctx context.Context, d *db.DB) error {
				tasks, err := d.ListProjectTasks(ctx, projectID)
				if err != nil {
					return err
				}

				if readyOnly {
					snapshot, err := d.ProjectSnapshot(ctx, projectID)
					if err != nil {
						return err
					}
					ready := map[string]bool{}
					for _, n := range graph.New(snapshot).ReadyTasks(nil) {
						if n.Status == task.StatusTodo {
							ready[n.ID] = true
						}
					}
					filtered := tasks[:0]
					for _, tk := range tasks {
						if ready[tk.ID] {
							filtered = append(filtered, tk)
						}
					}
					tasks = filtered
				}

				if len(tasks) == 0 {
					fmt.Println("No tasks.")
					return nil
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tROLE\tPRI\tDEPENDS ON")
				for _, tk := range tasks {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
						tk.ID, tk.Title, tk.Status, tk.AgentRole, tk.Priority,
						strings.Join(tk.Dependencies, ","))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().BoolVar(&readyOnly, "ready", false, "only tasks whose dependencies are satisfied")
	return cmd
}
