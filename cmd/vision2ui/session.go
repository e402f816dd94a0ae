package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/vision2ui/app/sidebar/runtime"
	"github.com/lexcodex/vision2ui/app/sidebar/tui"
	"github.com/lexcodex/vision2ui/panel"
	"github.com/lexcodex/vision2ui/transport"
)

func newPanelCmd() *cobra.Command {
	var (
		connect string
		serve   bool
	)
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Open the component sidebar",
		Long: "Open the component sidebar. By default the host runs in this process;\n" +
			"--connect attaches to a bridge started with `vision2ui serve`.",
		RunE: func(cmd *cobra.Command, args []string) error {
			console = io.Discard
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				opts := cfg.PanelOptions()
				opts.Logger = rt.Logger
				if connect != "" {
					wsCfg := transport.DefaultWebSocketConfig()
					wsCfg.Logger = rt.Logger
					ch, err := transport.Dial(ctx, connect, wsCfg)
					if err != nil {
						return fmt.Errorf("connect %s: %w", connect, err)
					}
					session := panel.NewSession(ch, opts)
					defer session.Close()
					return tui.Run(ctx, session, tui.Options{Title: "Vision2UI " + connect})
				}

				if serve {
					stop, err := rt.StartServer(ctx, cfg.ListenAddr)
					if err != nil {
						return err
					}
					defer stop(context.Background())
				}
				dialog := tui.NewSaveDialog(cfg.DownloadsDir)
				notices := tui.NewNotices(16)
				h := rt.NewHost(dialog, notices)
				panelEnd, hostEnd := transport.Pipe()
				hostCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := h.Serve(hostCtx, hostEnd); err != nil && hostCtx.Err() == nil {
						rt.Logger.Printf("host session: %v", err)
					}
				}()
				session := panel.NewSession(panelEnd, opts)
				defer session.Close()
				return tui.Run(ctx, session, tui.Options{
					Dialog:      dialog,
					Notices:     notices,
					ToggleTheme: func() { rt.ToggleTheme() },
				})
			})
		},
	}
	cmd.Flags().StringVar(&connect, "connect", "", "Bridge websocket URL, e.g. ws://127.0.0.1:9410/panel")
	cmd.Flags().BoolVar(&serve, "serve", false, "Also run the bridge server")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server (websocket panels, health, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(cmdCtx context.Context, rt *runtimesvc.Runtime) error {
				stop, err := rt.StartServer(cmdCtx, cfg.ListenAddr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "vision2ui bridge listening on %s\n", cfg.ListenAddr)
				<-cmdCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return stop(shutdownCtx)
			})
		},
	}
}

func newHostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Serve one panel session over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				ch := transport.Stdio(rt.Logger)
				defer ch.Close()
				return rt.Host.Serve(ctx, ch)
			})
		},
	}
}

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage the component service process",
	}
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the component service and keep it running until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				result, err := rt.Supervisor.Ensure(ctx)
				if err != nil {
					return err
				}
				if !result.Launched {
					fmt.Fprintf(cmd.OutOrStdout(), "API server already running at %s\n", rt.Service.BaseURL)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "API server ready at %s (pid %d, %s)\n", rt.Service.BaseURL, result.PID, result.Strategy)
				<-ctx.Done()
				return nil
			})
		},
	}
	var asJSON bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether the component service is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithRuntime(cmd, func(ctx context.Context, rt *runtimesvc.Runtime) error {
				st := rt.ServiceStatus(ctx)
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(st)
				}
				health := "unreachable"
				if st.Healthy {
					health = "healthy"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.BaseURL, health)
				return nil
			})
		},
	}
	status.Flags().BoolVar(&asJSON, "json", false, "Print the full status as JSON")
	cmd.AddCommand(start, status)
	return cmd
}
