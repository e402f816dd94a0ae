package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	runtimesvc "github.com/lexcodex/vision2ui/app/sidebar/runtime"
	"github.com/lexcodex/vision2ui/mcpcheck"
	"github.com/lexcodex/vision2ui/panel"
	"github.com/lexcodex/vision2ui/persistence"
	"github.com/lexcodex/vision2ui/service"
)

func newComponentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "components",
		Aliases: []string{"c"},
		Short:   "Query and upload component documentation",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List component names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				result, err := rt.Service.ListComponents(ctx)
				if err != nil {
					return err
				}
				for _, name := range result.Components {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
	show := &cobra.Command{
		Use:   "show [name]",
		Short: "Print a component's documentation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				content, err := rt.Service.ComponentContent(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), content.Content)
				return nil
			})
		},
	}
	exists := &cobra.Command{
		Use:   "exists [name]",
		Short: "Report whether a component exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				ok, err := rt.Service.ComponentExists(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			})
		},
	}
	upload := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a <component_name>-<version>.md file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := panel.ValidateUploadName(args[0]); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				result, err := rt.Service.Upload(ctx, filepath.Base(args[0]), string(data))
				if err != nil {
					return fmt.Errorf("Failed to upload component: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Component %q uploaded successfully\n", result.ComponentName)
				return nil
			})
		},
	}
	var limit int
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank components by how well their documentation matches query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				idx, err := buildComponentIndex(ctx, rt.Service)
				if err != nil {
					return err
				}
				matches := idx.Search(strings.Join(args, " "), limit)
				if len(matches) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no matches")
					return nil
				}
				for _, m := range matches {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.3f\n", m.Name, m.Score)
				}
				return nil
			})
		},
	}
	search.Flags().IntVar(&limit, "limit", 5, "Maximum number of matches")
	cmd.AddCommand(list, show, exists, upload, search)
	return cmd
}

// buildComponentIndex fetches every component's documentation, a few at a
// time, and indexes it.
func buildComponentIndex(ctx context.Context, client *service.Client) (*persistence.ComponentIndex, error) {
	list, err := client.ListComponents(ctx)
	if err != nil {
		return nil, err
	}
	idx := persistence.NewComponentIndex()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, name := range list.Components {
		name := name
		g.Go(func() error {
			doc, err := client.ComponentContent(gctx, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			idx.Add(name, doc.Content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return idx, nil
}

func newPromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Work with the metadata generation prompt",
	}
	var output string
	fetch := &cobra.Command{
		Use:   "fetch",
		Short: "Print or save the metadata generation prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				prompt, err := rt.Service.MetadataPrompt(ctx)
				if err != nil {
					return err
				}
				if output == "" {
					fmt.Fprintln(cmd.OutOrStdout(), prompt)
					return nil
				}
				if info, err := os.Stat(output); err == nil && info.IsDir() {
					output = filepath.Join(output, panel.MetadataPromptFilename)
				}
				if err := os.WriteFile(output, []byte(prompt), 0o644); err != nil {
					return fmt.Errorf("Failed to save file: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "File saved to %s\n", output)
				return nil
			})
		},
	}
	fetch.Flags().StringVarP(&output, "output", "o", "", "File or directory to save the prompt to")
	cmd.AddCommand(fetch)
	return cmd
}

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect the editor MCP integration",
	}
	check := &cobra.Command{
		Use:   "check",
		Short: "Check that the MCP server is configured and answering",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				result := rt.MCP.Check(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", result.Status, result.Details)
				if result.Status != mcpcheck.StatusConnected {
					return errors.New("MCP server is not connected")
				}
				return nil
			})
		},
	}
	cmd.AddCommand(check)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit   int
		session string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded uploads, downloads and server starts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				if rt.Journal == nil {
					return fmt.Errorf("journal unavailable: %w", rt.JournalErr)
				}
				var (
					entries []persistence.Entry
					err     error
				)
				if session != "" {
					entries, err = rt.Journal.Session(ctx, session)
				} else {
					entries, err = rt.Journal.Recent(ctx, limit)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderHistory(entries))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	cmd.Flags().StringVar(&session, "session", "", "Only show entries for this session id")
	return cmd
}

func renderHistory(entries []persistence.Entry) string {
	if len(entries) == 0 {
		return "no history"
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		session := e.Session
		if len(session) > 8 {
			session = session[:8]
		}
		rows = append(rows, []string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			session,
			e.Kind,
			e.Subject,
			e.Outcome,
			strings.TrimSpace(e.Detail),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "SESSION", "KIND", "SUBJECT", "OUTCOME", "DETAIL").
		Rows(rows...).
		String()
}
