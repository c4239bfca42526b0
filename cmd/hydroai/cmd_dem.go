package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydroai/internal/config"
	"hydroai/internal/dem"
	"hydroai/internal/project"
)

var (
	demLat, demLon float64
	demDataset     string
	demBuffer      float64
	demOut         string
	demProject     string
)

// demCmd groups DEM commands
var demCmd = &cobra.Command{
	Use:   "dem",
	Short: "Digital elevation model datasets and downloads",
}

var demDatasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the DEM datasets that can be downloaded",
	Args:  cobra.NoArgs,
	RunE:  runDEMDatasets,
}

var demDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a DEM around a point or a project outlet",
	Long: `Downloads a GeoTIFF DEM covering a square buffer around the point.
OpenTopography is used when OPENTOPOGRAPHY_API_KEY is set; OpenElevation
point lookups are the fallback.

With --project the project's outlet is used, the file is saved under the
project's data/raw directory and the project is marked dem_ready.`,
	Args: cobra.NoArgs,
	RunE: runDEMDownload,
}

func init() {
	demDownloadCmd.Flags().Float64Var(&demLat, "lat", 0, "Latitude of the center point")
	demDownloadCmd.Flags().Float64Var(&demLon, "lon", 0, "Longitude of the center point")
	demDownloadCmd.Flags().StringVar(&demDataset, "dataset", "", "Dataset key (default from config)")
	demDownloadCmd.Flags().Float64Var(&demBuffer, "buffer", 0, "Buffer around the point in km (default from config)")
	demDownloadCmd.Flags().StringVarP(&demOut, "out", "o", "", "Output directory (default: dem_dir from config)")
	demDownloadCmd.Flags().StringVarP(&demProject, "project", "p", "", "Project to download the DEM for")

	demCmd.AddCommand(demDatasetsCmd)
	demCmd.AddCommand(demDownloadCmd)
}

func runDEMDatasets(cmd *cobra.Command, args []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tRESOLUTION\tCOVERAGE\tYEAR\t")
	for _, d := range dem.Datasets() {
		mark := ""
		if d.Recommended {
			mark = "recommended"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d m\t%s\t%d\t%s\n", d.Key, d.Name, d.Resolution, d.Coverage, d.Year, mark)
	}
	return tw.Flush()
}

func runDEMDownload(cmd *cobra.Command, args []string) error {
	c := currentConfig()
	req := dem.Request{
		Lat:       demLat,
		Lon:       demLon,
		Dataset:   c.DEM.Dataset,
		BufferKm:  c.DEM.BufferKm,
		OutputDir: config.ResolvePath(workspaceRoot(), c.Workspace.DEMDir),
	}
	if demDataset != "" {
		req.Dataset = strings.ToUpper(demDataset)
	}
	if _, ok := dem.Lookup(req.Dataset); !ok {
		return fmt.Errorf("unknown DEM dataset %q (see hydroai dem datasets)", req.Dataset)
	}
	if demBuffer != 0 {
		if demBuffer < 5 || demBuffer > 100 {
			return fmt.Errorf("buffer must be between 5 and 100 km, got %g", demBuffer)
		}
		req.BufferKm = demBuffer
	}

	var (
		mgr  *project.Manager
		path string
	)
	if demProject != "" {
		var err error
		mgr, path, err = resolveProject(demProject)
		if err != nil {
			return err
		}
		meta, err := mgr.Load(path)
		if err != nil {
			return err
		}
		req.Lat, req.Lon = meta.Outlet.Lat, meta.Outlet.Lon
		req.OutputDir = project.RawDir(path)
	}
	if demOut != "" {
		req.OutputDir = demOut
	}
	if err := validOutlet(req.Lat, req.Lon); err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	file, err := dem.NewDownloader(c, currentLogger()).Download(ctx, req)
	if err != nil {
		return err
	}
	if mgr != nil {
		_, err := mgr.Update(path, "dem", func(m *project.Metadata) error {
			m.DEMPath = file
			if m.Status == project.StatusCreated {
				m.Status = project.StatusDEMReady
			}
			return nil
		})
		if err != nil {
			return err
		}
		currentLogger().Info("project DEM recorded", zap.String("project", path), zap.String("dem", file))
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Check("DEM saved: %s", file))
	return nil
}
