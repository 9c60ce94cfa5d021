package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage org API keys",
}

var keyExpiresDays int

type keyRow struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the org's keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		var keys []keyRow
		path := "/orgs/" + url.PathEscape(org) + "/api-keys/"
		if err := newClient().do(cmd.Context(), http.MethodGet, path, nil, nil, &keys); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(keys)
		}
		for _, k := range keys {
			state := "active"
			switch {
			case k.RevokedAt != nil:
				state = "revoked"
			case k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt):
				state = "expired"
			}
			fmt.Printf("%s  %s…  %-20s  %s\n", k.ID, k.Prefix, k.Name, state)
		}
		return nil
	},
}

var keysCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Mint a key (the secret is shown once)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		body := map[string]any{"name": args[0]}
		if keyExpiresDays > 0 {
			body["expires_in_days"] = keyExpiresDays
		}
		var created struct {
			ID        string `json:"id"`
			Prefix    string `json:"prefix"`
			Plaintext string `json:"api_key"`
		}
		path := "/orgs/" + url.PathEscape(org) + "/api-keys/"
		if err := newClient().do(cmd.Context(), http.MethodPost, path, nil, body, &created); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(created)
		}
		fmt.Println("created key", created.ID)
		fmt.Println("secret (save it now, it is not shown again):")
		fmt.Println(created.Plaintext)
		return nil
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, err := requireOrg()
		if err != nil {
			return err
		}
		path := "/orgs/" + url.PathEscape(org) + "/api-keys/" + url.PathEscape(args[0]) + "/revoke"
		if err := newClient().do(cmd.Context(), http.MethodPost, path, nil, nil, nil); err != nil {
			return err
		}
		fmt.Println("revoked", args[0])
		return nil
	},
}

func init() {
	keysCreateCmd.Flags().IntVar(&keyExpiresDays, "expires-in-days", 0, "expiry in days (0 = never)")
	keysCmd.AddCommand(keysListCmd, keysCreateCmd, keysRevokeCmd)
	rootCmd.AddCommand(keysCmd)
}
