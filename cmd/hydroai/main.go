package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydroai/cmd/hydroai/ui"
	"hydroai/internal/config"
	"hydroai/internal/logging"
	"hydroai/internal/project"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
	styles = ui.DefaultStyles()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hydroai",
	Short: "HydroAI - watershed delineation and analysis",
	Long: `HydroAI delineates hydrographic basins from a DEM and an outlet point,
runs topographic, hydrological, soil and climate analyses over the basin and
writes a Markdown report, optionally interpreted by an AI model.

Typical session:
  hydroai project create "Arroio Grande" --lat -29.409 --lon -56.737
  hydroai dem download --project Arroio_Grande_20240101_120000
  hydroai delineate Arroio_Grande_20240101_120000
  hydroai analyze Arroio_Grande_20240101_120000
  hydroai report Arroio_Grande_20240101_120000 --render`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest with hydroai.yaml)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/hydroai.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "Operation timeout")

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(demCmd)
	rootCmd.AddCommand(delineateCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Fail("%v", err))
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger before any subcommand.
func setup(cmd *cobra.Command, args []string) error {
	root := workspaceRoot()
	c, err := config.Load(configFile(root))
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	l, err := logging.New(logging.Options{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		File:    config.ResolvePath(root, c.Logging.File),
		Verbose: verbose,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg, logger = c, l
	return nil
}

func workspaceRoot() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return config.FindWorkspaceRoot(cwd)
}

func configFile(root string) string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(root, config.FileName)
}

// currentConfig returns the loaded configuration, or defaults when a handler
// runs without the root pre-run hook.
func currentConfig() *config.Config {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return cfg
}

func currentLogger() *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

func projectManager() (*project.Manager, error) {
	dir := config.ResolvePath(workspaceRoot(), currentConfig().Workspace.ProjectsDir)
	return project.NewManager(dir, currentLogger())
}

// resolveProject loads the manager and resolves a project reference.
func resolveProject(ref string) (*project.Manager, string, error) {
	mgr, err := projectManager()
	if err != nil {
		return nil, "", err
	}
	path, err := mgr.Resolve(ref)
	if err != nil {
		return nil, "", err
	}
	return mgr, path, nil
}

// commandContext bounds a command by --timeout and cancels it on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
