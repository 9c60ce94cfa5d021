package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

type projectRow struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	MemoryCount int       `json:"memory_count"`
	CreatedAt   time.Time `json:"created_at"`
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visible projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		var projects []projectRow
		if err := newClient().do(cmd.Context(), http.MethodGet, "/projects", nil, nil, &projects); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(projects)
		}
		if len(projects) == 0 {
			fmt.Println("no projects")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%s  %-30s  %d memories\n", p.ID, p.Name, p.MemoryCount)
		}
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"name": args[0]}
		if org := viper.GetString("org_id"); org != "" {
			body["org_id"] = org
		}
		var created projectRow
		if err := newClient().do(cmd.Context(), http.MethodPost, "/projects", nil, body, &created); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(created)
		}
		fmt.Println("created project", created.ID)
		return nil
	},
}

func init() {
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd)
	rootCmd.AddCommand(projectsCmd)
}
