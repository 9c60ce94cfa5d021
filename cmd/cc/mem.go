package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var memCmd = &cobra.Command{
	Use:   "mem",
	Short: "Store and list memory cards",
}

var (
	memType    string
	memSource  string
	memTitle   string
	memTags    []string
	memProject string
	memLimit   int
)

type memoryRow struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

var memAddCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Add a memory card (content from arg or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if memProject == "" {
			return exitErrf(exitValidation, "--project is required")
		}
		content := ""
		if len(args) == 1 {
			content = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			content = string(data)
		}
		if strings.TrimSpace(content) == "" {
			return exitErrf(exitValidation, "content must not be empty")
		}

		body := map[string]any{
			"type":    memType,
			"content": content,
			"source":  memSource,
		}
		if memTitle != "" {
			body["title"] = memTitle
		}
		if len(memTags) > 0 {
			body["tags"] = memTags
		}

		c := newClient()
		path := "/projects/" + url.PathEscape(memProject) + "/memories"

		// 201 decodes as a bare memory; 200 wraps it with idempotent=true.
		var raw map[string]any
		if err := c.do(cmd.Context(), http.MethodPost, path, nil, body, &raw); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(raw)
		}
		if raw["idempotent"] == true {
			if mem, ok := raw["memory"].(map[string]any); ok {
				fmt.Println("already stored as", mem["id"])
				return nil
			}
		}
		fmt.Println("stored", raw["id"])
		return nil
	},
}

var memListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent memories in a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		if memProject == "" {
			return exitErrf(exitValidation, "--project is required")
		}
		q := url.Values{"limit": {strconv.Itoa(memLimit)}}
		var memories []memoryRow
		path := "/projects/" + url.PathEscape(memProject) + "/memories"
		if err := newClient().do(cmd.Context(), http.MethodGet, path, q, nil, &memories); err != nil {
			return err
		}
		if jsonMode() {
			return printJSON(memories)
		}
		if len(memories) == 0 {
			fmt.Println("no memories")
			return nil
		}
		for _, m := range memories {
			label := m.Title
			if label == "" {
				label = m.Content
				if len(label) > 60 {
					label = label[:60] + "…"
				}
			}
			fmt.Printf("%s  [%s]  %s  %s\n",
				m.ID, m.Type, m.CreatedAt.Format("2006-01-02"), label)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{memAddCmd, memListCmd} {
		c.Flags().StringVarP(&memProject, "project", "p", "", "project id")
	}
	memAddCmd.Flags().StringVarP(&memType, "type", "t", "note", "memory type")
	memAddCmd.Flags().StringVar(&memSource, "source", "manual", "capture source")
	memAddCmd.Flags().StringVar(&memTitle, "title", "", "optional title")
	memAddCmd.Flags().StringSliceVar(&memTags, "tag", nil, "tag (repeatable)")
	memListCmd.Flags().IntVarP(&memLimit, "limit", "n", 20, "max rows")

	memCmd.AddCommand(memAddCmd, memListCmd)
	rootCmd.AddCommand(memCmd)
}
