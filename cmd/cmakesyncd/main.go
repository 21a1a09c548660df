package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/schaermu/cmakesyncd/internal/activation"
	"github.com/schaermu/cmakesyncd/internal/config"
	"github.com/schaermu/cmakesyncd/internal/git"
	"github.com/schaermu/cmakesyncd/internal/manifest"
	"github.com/schaermu/cmakesyncd/internal/prompt"
	cmakesync "github.com/schaermu/cmakesyncd/internal/sync"
	"github.com/schaermu/cmakesyncd/internal/watch"
	"github.com/schaermu/cmakesyncd/internal/webhook"
	"github.com/schaermu/cmakesyncd/internal/workspace"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile       string
	logLevel      string
	logFormat     string
	workspaceRoot string
	dryRun        bool
)

var missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cmakesyncd",
	Short: "Keep the source list of a CMakeLists.txt in sync with the files on disk",
	Long: `cmakesyncd keeps the list(APPEND EDITOR_SRCS "...") lines of a project's
CMakeLists.txt in step with the source files that exist in the workspace.

New files are offered for adding (inserted above the #VSCODE-CMAKE-EXT-MARKER
line) and deleted files are removed from the list automatically. Events come
from a filesystem watcher or from an editor plugin over HTTP.`,
	SilenceUsage: true,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace and update the manifest as files come and go",
	Long: `Watch subscribes to filesystem notifications below the workspace root.

Created files are offered for adding with a yes/no prompt (see prompt.mode),
deleted files are removed from the manifest without asking.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP endpoint for editor plugins",
	Long: `Serve starts a long-running HTTP server that accepts file created/deleted
notifications and add/remove commands from an editor plugin.

Requests are authenticated with an HMAC-SHA256 signature when
serve.secret_file is configured. A systemd-activated socket is used when present.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var addCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Add a file's entry to the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(args[0], (*cmakesync.Engine).AddFile)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <file>",
	Short: "Remove a file's entry from the manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(args[0], (*cmakesync.Engine).RemoveFile)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the manifest's entries and flag files that no longer exist",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cmakesyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/cmakesyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&workspaceRoot, "workspace", "w", "", "workspace root (default is workspace.root or the current directory)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would be done without writing the manifest")

	// Add commands
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

// app bundles what every command needs
type app struct {
	cfg    *config.Config
	ws     *workspace.Workspace
	engine *cmakesync.Engine
	logger *slog.Logger
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup(setupLogger())
	if err != nil {
		return err
	}

	// The manifest has to exist before anything can be synced
	if _, err := a.ws.LocateManifest(); err != nil {
		a.logger.Warn("no usable manifest yet, events are ignored until one appears", "error", err)
	}

	w := watch.New(a.ws.Root, a.cfg.Watch.DebounceWindow(), a.engine, a.logger, a.ws.Ignored)
	if err := w.Run(ctx); err != nil {
		a.logger.Error("watcher failed", "error", err)
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup(setupLogger())
	if err != nil {
		return err
	}

	server, err := webhook.NewServer(a.cfg, a.engine, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create event server: %w", err)
	}

	ln, err := activation.Listener()
	if err != nil {
		return fmt.Errorf("failed to use activated socket: %w", err)
	}
	if ln != nil {
		a.logger.Info("using socket-activated listener", "addr", ln.Addr().String())
	}

	return server.Start(ctx, ln)
}

func runCommand(file string, op func(*cmakesync.Engine, context.Context, string) (manifest.Result, error)) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup(setupLogger())
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(file)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", file, err)
	}

	result, err := op(a.engine, ctx, abs)
	if err != nil {
		return err
	}
	if result == cmakesync.ResultSkipped {
		a.logger.Info("nothing to do", "file", abs)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := setup(setupLogger())
	if err != nil {
		return err
	}

	entries, err := a.engine.Entries(a.ws.Root)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	out := cmd.OutOrStdout()
	for _, e := range entries {
		if e.Exists {
			_, _ = fmt.Fprintln(out, e.Path)
		} else {
			_, _ = fmt.Fprintln(out, e.Path+" "+missingStyle.Render("(missing)"))
		}
	}
	return nil
}

func setup(logger *slog.Logger) (*app, error) {
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ws, err := newWorkspace(cfg)
	if err != nil {
		return nil, err
	}

	opts := cmakesync.Options{
		ManifestName:  cfg.Manifest.Name,
		SkipNoopWrite: cfg.Manifest.SkipNoopWrite,
		DryRun:        dryRun,
	}
	if cfg.Watch.RespectGitignore {
		opts.GitIgnore = git.NewShellClient()
		opts.GitDir = ws.Root
	}

	engine := cmakesync.NewEngine(
		cfg.Template(),
		ws,
		prompt.New(cfg.Prompt, os.Stdin, os.Stdout, logger),
		prompt.NewConsole(os.Stdout, logger),
		logger,
		opts)

	return &app{cfg: cfg, ws: ws, engine: engine, logger: logger}, nil
}

// newWorkspace resolves the root from the flag, the config, or the working
// directory, in that order
func newWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	root := workspaceRoot
	if root == "" {
		root = cfg.Workspace.Root
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		root = wd
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	ignore, err := cfg.IgnoreMatchers()
	if err != nil {
		return nil, err
	}

	return &workspace.Workspace{
		Root:         root,
		ManifestName: cfg.Manifest.Name,
		ManifestPath: cfg.Manifest.Path,
		PickFirst:    cfg.Manifest.OnAmbiguous == config.AmbiguousFirst,
		Ignore:       ignore,
	}, nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format. Logs go to stderr so they don't
	// interleave with prompts and notifications on stdout.
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// An explicit --config must exist; the default location is optional
	configPath := cfgFile
	optional := false
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "cmakesyncd", "config.yaml")
		optional = true
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath, optional)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"workspace", cfg.Workspace.Root,
		"manifest", cfg.Manifest.Name,
		"list_variable", cfg.Manifest.ListVariable,
		"prompt_mode", cfg.Prompt.Mode)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
