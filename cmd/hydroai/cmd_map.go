package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"hydroai/internal/mapview"
	"hydroai/internal/project"
	"hydroai/internal/watershed"
)

var mapOut string

var mapCmd = &cobra.Command{
	Use:   "map [project]",
	Short: "Export an interactive HTML map of the project",
	Long: `Writes a standalone Leaflet page with OpenStreetMap tiles, the outlet
marker and, once delineated, the watershed polygon. Default output is
results/map.html inside the project.`,
	Args: cobra.ExactArgs(1),
	RunE: runMap,
}

func init() {
	mapCmd.Flags().StringVarP(&mapOut, "out", "o", "", "Output HTML file")
}

func runMap(cmd *cobra.Command, args []string) error {
	mgr, path, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	meta, err := mgr.Load(path)
	if err != nil {
		return err
	}
	geojson, err := os.ReadFile(filepath.Join(project.ProcessedDir(path), watershed.GeoJSONFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	out := mapOut
	if out == "" {
		out = filepath.Join(project.ResultsDir(path), "map.html")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := mapview.Render(f, mapview.ForProject(meta, geojson)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Check("map written: %s", out))
	return nil
}
