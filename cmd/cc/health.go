package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/health", nil, nil, &resp); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(resp)
		}
		fmt.Println("status:", resp.Status)
		for name, state := range resp.Checks {
			fmt.Printf("  %s: %s\n", name, state)
		}
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save server, API key, and org to the config file",
	Long:  "Writes ~/.contextcache/config.json (mode 0600) with the server URL, API key, and default org so later commands need no flags.",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if c.apiKey == "" {
			return exitErrf(exitValidation, "no API key: pass --api-key or set CC_API_KEY")
		}

		// Validate the key before persisting it.
		var me struct {
			OrgID string `json:"org_id"`
		}
		if err := c.do(cmd.Context(), http.MethodGet, "/auth/me", nil, nil, &me); err != nil {
			return err
		}

		cfg := clientConfig{BaseURL: c.baseURL, APIKey: c.apiKey, OrgID: me.OrgID}
		if err := saveClientConfig(cfg); err != nil {
			return err
		}
		fmt.Println("saved", configPath())
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's quota usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			MemoriesCreated int            `json:"memories_created"`
			RecallQueries   int            `json:"recall_queries"`
			ProjectsCreated int            `json:"projects_created"`
			Limits          map[string]int `json:"limits"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/me/usage", nil, nil, &resp); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(resp)
		}
		fmt.Printf("memories created: %d / %d\n", resp.MemoriesCreated, resp.Limits["memory_created"])
		fmt.Printf("recall queries:   %d / %d\n", resp.RecallQueries, resp.Limits["recall_query"])
		fmt.Printf("projects created: %d / %d\n", resp.ProjectsCreated, resp.Limits["project_created"])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd, loginCmd, usageCmd)
}
