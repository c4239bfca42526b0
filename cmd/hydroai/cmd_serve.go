package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydroai/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve projects, watershed geometries and maps over HTTP",
	Long: `Starts a local HTTP server:

  GET /                                   project index
  GET /projects/{id}/map                  Leaflet map
  GET /api/projects                       project list
  GET /api/projects/{id}                  project with analyses
  GET /api/projects/{id}/watershed.geojson
  GET /api/datasets                       DEM datasets
  GET /healthz

The project list is refreshed when the projects directory changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	mgr, err := projectManager()
	if err != nil {
		return err
	}
	c := currentConfig()
	addr := c.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	// The server runs until interrupted; --timeout does not apply.
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := server.New(mgr, c.Analysis.Enabled, currentLogger())
	if err := s.Watch(ctx); err != nil {
		currentLogger().Warn("project watcher disabled", zap.Error(err))
	}
	defer s.Close()

	fmt.Fprintln(cmd.OutOrStdout(), styles.Check("serving %s on %s", mgr.Base(), addr))
	return s.ListenAndServe(ctx, addr, c.GetReadHeaderTimeout())
}
