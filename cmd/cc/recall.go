package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	recallProject string
	recallLimit   int
	recallFormat  string
	recallItems   bool
)

var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "Recall a ranked memory pack",
	Long:  "Prints the assembled memory pack for a project, ready to paste into a prompt. With no query the most recent memories are returned.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if recallProject == "" {
			return exitErrf(exitValidation, "--project is required")
		}
		q := url.Values{
			"limit":  {strconv.Itoa(recallLimit)},
			"format": {recallFormat},
		}
		if len(args) == 1 {
			q.Set("query", args[0])
		}

		var resp struct {
			Items     []memoryRow `json:"items"`
			Pack      string      `json:"memory_pack_text"`
			Truncated bool        `json:"truncated"`
		}
		path := "/projects/" + url.PathEscape(recallProject) + "/recall"
		if err := newClient().do(cmd.Context(), http.MethodGet, path, q, nil, &resp); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(resp)
		}
		if recallItems {
			for _, m := range resp.Items {
				fmt.Printf("%s  [%s]  %s\n", m.ID, m.Type, m.CreatedAt.Format("2006-01-02"))
			}
			return nil
		}
		fmt.Print(resp.Pack)
		if !strings.HasSuffix(resp.Pack, "\n") && resp.Pack != "" {
			fmt.Println()
		}
		if resp.Truncated {
			fmt.Fprintln(cmd.ErrOrStderr(), "(pack truncated to fit the byte budget)")
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().StringVarP(&recallProject, "project", "p", "", "project id")
	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 10, "max items")
	recallCmd.Flags().StringVarP(&recallFormat, "format", "f", "text", "pack format: text or toon")
	recallCmd.Flags().BoolVar(&recallItems, "items", false, "list item ids instead of the pack")
	rootCmd.AddCommand(recallCmd)
}
