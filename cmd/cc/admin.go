package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Invite and waitlist management plus the admin subtree. Everything here
// except `waitlist join` talks to the server's /admin surface and needs a
// service-admin session or key.

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Service administration",
}

var invitesCmd = &cobra.Command{
	Use:   "invites",
	Short: "Manage invites",
}

var inviteNotes string

type inviteRow struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// issuedInvite is the creation/approval response; debug_link only appears
// against a dev-mode server.
type issuedInvite struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	DebugLink string    `json:"debug_link,omitempty"`
}

func inviteState(inv inviteRow) string {
	switch {
	case inv.RevokedAt != nil:
		return "revoked"
	case inv.AcceptedAt != nil:
		return "accepted"
	case time.Now().After(inv.ExpiresAt):
		return "expired"
	default:
		return "pending"
	}
}

var invitesCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Invite an email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"email": args[0], "notes": inviteNotes}
		var resp issuedInvite
		if err := newClient().do(cmd.Context(), http.MethodPost, "/admin/invites", nil, body, &resp); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(resp)
		}
		fmt.Println("invited", resp.Email, "(expires", resp.ExpiresAt.Format("2006-01-02"), ")")
		if resp.DebugLink != "" {
			fmt.Println("link:", resp.DebugLink)
		}
		return nil
	},
}

var inviteStatus string

var invitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List invites",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if inviteStatus != "" {
			q.Set("status", inviteStatus)
		}
		var invites []inviteRow
		if err := newClient().do(cmd.Context(), http.MethodGet, "/admin/invites", q, nil, &invites); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(invites)
		}
		for _, inv := range invites {
			fmt.Printf("%s  %-30s  %s\n", inv.ID, inv.Email, inviteState(inv))
		}
		return nil
	},
}

var invitesRevokeCmd = &cobra.Command{
	Use:   "revoke <invite-id>",
	Short: "Revoke an invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/admin/invites/" + url.PathEscape(args[0]) + "/revoke"
		if err := newClient().do(cmd.Context(), http.MethodPost, path, nil, nil, nil); err != nil {
			return err
		}
		fmt.Println("revoked", args[0])
		return nil
	},
}

var waitlistCmd = &cobra.Command{
	Use:   "waitlist",
	Short: "Manage the waitlist",
}

type waitlistRow struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

var waitlistStatus string

var waitlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List waitlist entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if waitlistStatus != "" {
			q.Set("status", waitlistStatus)
		}
		var entries []waitlistRow
		if err := newClient().do(cmd.Context(), http.MethodGet, "/admin/waitlist", q, nil, &entries); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(entries)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-30s  %-10s  %s\n", e.ID, e.Email, e.Status, e.CreatedAt.Format("2006-01-02"))
		}
		return nil
	},
}

var waitlistApproveCmd = &cobra.Command{
	Use:   "approve <entry-id>",
	Short: "Approve an entry and send the invite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/admin/waitlist/" + url.PathEscape(args[0]) + "/approve"
		var resp issuedInvite
		if err := newClient().do(cmd.Context(), http.MethodPost, path, nil, nil, &resp); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(resp)
		}
		fmt.Println("approved; invited", resp.Email)
		if resp.DebugLink != "" {
			fmt.Println("link:", resp.DebugLink)
		}
		return nil
	},
}

var waitlistRejectCmd = &cobra.Command{
	Use:   "reject <entry-id>",
	Short: "Reject an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/admin/waitlist/" + url.PathEscape(args[0]) + "/reject"
		if err := newClient().do(cmd.Context(), http.MethodPost, path, nil, nil, nil); err != nil {
			return err
		}
		fmt.Println("rejected", args[0])
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var users []struct {
			ID          string    `json:"id"`
			Email       string    `json:"email"`
			IsAdmin     bool      `json:"is_admin"`
			IsUnlimited bool      `json:"is_unlimited"`
			IsDisabled  bool      `json:"is_disabled"`
			CreatedAt   time.Time `json:"created_at"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/admin/users", nil, nil, &users); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(users)
		}
		for _, u := range users {
			flags := ""
			if u.IsAdmin {
				flags += " admin"
			}
			if u.IsUnlimited {
				flags += " unlimited"
			}
			if u.IsDisabled {
				flags += " disabled"
			}
			fmt.Printf("%s  %-30s %s\n", u.ID, u.Email, flags)
		}
		return nil
	},
}

var setUnlimitedCmd = &cobra.Command{
	Use:   "set-unlimited <user-id> <true|false>",
	Short: "Toggle a user's quota exemption",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		unlimited, err := strconv.ParseBool(args[1])
		if err != nil {
			return exitErrf(exitValidation, "second argument must be true or false")
		}
		path := "/admin/users/" + url.PathEscape(args[0]) + "/set-unlimited"
		body := map[string]bool{"unlimited": unlimited}
		if err := newClient().do(cmd.Context(), http.MethodPost, path, nil, body, nil); err != nil {
			return err
		}
		fmt.Printf("user %s unlimited=%v\n", args[0], unlimited)
		return nil
	},
}

var disableUserCmd = &cobra.Command{
	Use:   "disable <user-id>",
	Short: "Disable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/admin/users/" + url.PathEscape(args[0]) + "/disable"
		if err := newClient().do(cmd.Context(), http.MethodPost, path, nil, map[string]bool{"disabled": true}, nil); err != nil {
			return err
		}
		fmt.Println("disabled", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats map[string]int
		if err := newClient().do(cmd.Context(), http.MethodGet, "/admin/stats", nil, nil, &stats); err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var recallLogsCmd = &cobra.Command{
	Use:   "recall-logs",
	Short: "Show recent recall usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		var logs []struct {
			UserID string `json:"user_id"`
			Email  string `json:"email"`
			Day    string `json:"day"`
			Count  int    `json:"count"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/admin/recall-logs", nil, nil, &logs); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(logs)
		}
		for _, l := range logs {
			fmt.Printf("%s  %-30s  %d recalls\n", l.Day, l.Email, l.Count)
		}
		return nil
	},
}

func init() {
	invitesCreateCmd.Flags().StringVar(&inviteNotes, "notes", "", "free-form note")
	invitesListCmd.Flags().StringVar(&inviteStatus, "status", "", "filter: pending|accepted|expired|revoked")
	invitesCmd.AddCommand(invitesCreateCmd, invitesListCmd, invitesRevokeCmd)

	waitlistListCmd.Flags().StringVar(&waitlistStatus, "status", "", "filter: pending|approved|rejected")
	waitlistCmd.AddCommand(waitlistListCmd, waitlistApproveCmd, waitlistRejectCmd)

	adminCmd.AddCommand(usersCmd, setUnlimitedCmd, disableUserCmd, statsCmd, recallLogsCmd)
	rootCmd.AddCommand(adminCmd, invitesCmd, waitlistCmd)
}
