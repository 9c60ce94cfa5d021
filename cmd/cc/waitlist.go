package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// Public self-service signup; needs no credentials. The rest of the
// waitlist subtree (list/approve/reject) is admin-only and lives in
// admin.go.

var (
	joinName    string
	joinCompany string
	joinUseCase string
)

var waitlistJoinCmd = &cobra.Command{
	Use:   "join <email>",
	Short: "Request access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{
			"email":    args[0],
			"name":     joinName,
			"company":  joinCompany,
			"use_case": joinUseCase,
			"source":   "cli",
		}
		if err := newClient().do(cmd.Context(), http.MethodPost, "/waitlist/join", nil, body, nil); err != nil {
			return err
		}
		fmt.Println("you're on the list; watch your inbox")
		return nil
	},
}

func init() {
	waitlistJoinCmd.Flags().StringVar(&joinName, "name", "", "your name")
	waitlistJoinCmd.Flags().StringVar(&joinCompany, "company", "", "company")
	waitlistJoinCmd.Flags().StringVar(&joinUseCase, "use-case", "", "what you want to use it for")
	waitlistCmd.AddCommand(waitlistJoinCmd)
}
