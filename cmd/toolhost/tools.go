package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// listedTool is the part of a GET /api/tools entry the CLI prints.
type listedTool struct {
	ID                string `json:"id"`
	FullReferenceName string `json:"fullReferenceName"`
	Implemented       bool   `json:"implemented"`
	Source            struct {
		Kind  string `json:"type"`
		Label string `json:"label"`
	} `json:"source"`
}

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools of a running toolhost",
	}

	var (
		addr  string
		token string
		all   bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = os.Getenv("TOOLHOST_TOKEN")
			}
			tools, err := fetchTools(cmd.Context(), addr, token, all)
			if err != nil {
				return err
			}
			return printTools(cmd.OutOrStdout(), tools)
		},
	}
	list.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "Gateway base URL")
	list.Flags().StringVar(&token, "token", "", "Gateway bearer token (default $TOOLHOST_TOKEN)")
	list.Flags().BoolVar(&all, "all", false, "Include disabled tools")

	cmd.AddCommand(list)
	return cmd
}

func fetchTools(ctx context.Context, addr, token string, all bool) ([]listedTool, error) {
	u, err := url.JoinPath(addr, "/api/tools")
	if err != nil {
		return nil, fmt.Errorf("invalid gateway address %q: %w", addr, err)
	}
	if all {
		u += "?all=true"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var tools []listedTool
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("decoding tools: %w", err)
	}
	return tools, nil
}

func printTools(w io.Writer, tools []listedTool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREFERENCE\tSOURCE\tIMPLEMENTED")
	for _, t := range tools {
		source := t.Source.Kind
		if t.Source.Label != "" {
			source += " (" + t.Source.Label + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", t.ID, t.FullReferenceName, source, t.Implemented)
	}
	return tw.Flush()
}
