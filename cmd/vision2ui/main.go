package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	runtimesvc "github.com/lexcodex/vision2ui/app/sidebar/runtime"
)

var (
	cfg       runtimesvc.Config
	overrides flagOverrides
	// console is where runtime logs go besides the log file.
	console io.Writer
)

// flagOverrides win over config.yaml when the flag was set explicitly.
type flagOverrides struct {
	apiURL       string
	addr         string
	theme        string
	downloadsDir string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg = runtimesvc.DefaultConfig()
	cfg.ConfigPath = ""
	cfg.LogPath = ""
	overrides = flagOverrides{}
	console = nil

	root := &cobra.Command{
		Use:           "vision2ui",
		Short:         "Sidebar bridge for the vision2ui component service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Workspace, "workspace", cfg.Workspace, "Workspace directory")
	flags.StringVar(&cfg.ConfigPath, "config", "", "Path to config.yaml (default <workspace>/.vision2ui/config.yaml)")
	flags.StringVar(&cfg.LogPath, "log", "", "Path to the log file (default <workspace>/.vision2ui/vision2ui.log)")
	flags.StringVar(&overrides.apiURL, "api-url", "", "Component service base URL")
	flags.StringVar(&overrides.addr, "addr", "", "Bridge server listen address")
	flags.StringVar(&overrides.theme, "theme", "", "Panel theme (auto, dark, light)")
	flags.StringVar(&overrides.downloadsDir, "downloads", "", "Directory for saved files")

	root.AddCommand(
		newPanelCmd(),
		newServeCmd(),
		newHostCmd(),
		newServerCmd(),
		newComponentsCmd(),
		newPromptCmd(),
		newMCPCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig resolves paths, overlays config.yaml and applies explicit flags.
func loadConfig(cmd *cobra.Command) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	loaded, err := runtimesvc.LoadConfig(cfg.ConfigPath, cfg)
	if err != nil {
		return err
	}
	cfg = loaded
	flags := cmd.Flags()
	if flags.Changed("api-url") {
		cfg.APIBaseURL = overrides.apiURL
	}
	if flags.Changed("addr") {
		cfg.ListenAddr = overrides.addr
	}
	if flags.Changed("theme") {
		cfg.Theme = overrides.theme
	}
	if flags.Changed("downloads") {
		cfg.DownloadsDir = overrides.downloadsDir
	}
	return cfg.Normalize()
}

func runWithRuntime(cmd *cobra.Command, fn func(context.Context, *runtimesvc.Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := runtimesvc.New(ctx, cfg, runtimesvc.Options{Console: console})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
