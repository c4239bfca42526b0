package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"hydroai/cmd/hydroai/ui"
	"hydroai/internal/format"
	"hydroai/internal/project"
	"hydroai/internal/watershed"
)

var (
	delineateDEM   string
	delineateSnap  int
	delineateNoTUI bool
)

// errNoDEM is returned when a project has no DEM to delineate from.
var errNoDEM = errors.New("project has no DEM; run hydroai dem download --project or pass --dem")

var delineateCmd = &cobra.Command{
	Use:   "delineate [project]",
	Short: "Delineate the watershed upstream of the project outlet",
	Long: `Conditions the DEM (pit fill, depression fill, flat resolution), routes
flow with D8, extracts the catchment draining to the outlet and writes
GeoJSON, GeoPackage, Shapefile and raster exports to data/processed.

Example:
  hydroai delineate Arroio_Grande_20240101_120000 --snap 5`,
	Args: cobra.ExactArgs(1),
	RunE: runDelineate,
}

func init() {
	delineateCmd.Flags().StringVar(&delineateDEM, "dem", "", "DEM GeoTIFF (default: the project's downloaded DEM)")
	delineateCmd.Flags().IntVar(&delineateSnap, "snap", 0, "Snap the outlet to the highest accumulation within N cells (default from config)")
	delineateCmd.Flags().BoolVar(&delineateNoTUI, "no-tui", false, "Print progress lines instead of the progress bar")
}

func runDelineate(cmd *cobra.Command, args []string) error {
	mgr, path, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	meta, err := mgr.Load(path)
	if err != nil {
		return err
	}
	demPath := delineateDEM
	if demPath == "" {
		demPath = meta.DEMPath
	}
	if demPath == "" {
		return errNoDEM
	}

	c := currentConfig()
	req := watershed.Request{
		Lat:                meta.Outlet.Lat,
		Lon:                meta.Outlet.Lon,
		DEMPath:            demPath,
		OutputDir:          project.ProcessedDir(path),
		SnapRadius:         c.Delineation.SnapRadiusCells,
		StreamThresholdKm2: c.Delineation.StreamThresholdKm2,
		Exports:            c.Delineation.Exports,
	}
	if cmd.Flags().Changed("snap") {
		req.SnapRadius = delineateSnap
	}
	if req.SnapRadius < 0 {
		return fmt.Errorf("--snap must not be negative")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	d := watershed.NewDelineator(currentLogger())
	var res *watershed.Result
	work := func(ctx context.Context, report func(int, string)) error {
		var err error
		res, err = d.Delineate(ctx, req, report)
		return err
	}
	if useTUI(cmd) {
		err = ui.RunWithProgress(ctx, "Delineating "+meta.Name, cmd.OutOrStdout(), work)
	} else {
		err = work(ctx, ui.PlainProgress(cmd.ErrOrStderr()))
	}
	if err != nil {
		if watershed.IsOutletError(err) {
			return fmt.Errorf("%w; check the outlet coordinates against the DEM extent", err)
		}
		return err
	}

	_, err = mgr.Update(path, "delineate", func(m *project.Metadata) error {
		m.DEMPath = demPath
		m.Watershed = watershedSummary(res)
		m.Status = project.StatusDelineated
		return nil
	})
	if err != nil {
		return err
	}

	s := res.Stats
	fmt.Fprintln(cmd.OutOrStdout(), styles.Panel("Watershed", []ui.Field{
		{Label: "Area", Value: format.Area(s.AreaM2, format.UnitAuto)},
		{Label: "Area (ha)", Value: format.Number(s.AreaHa, 2)},
		{Label: "Perimeter", Value: format.Number(s.PerimeterKm, 2) + " km"},
		{Label: "Cells", Value: format.Number(float64(s.CellCount), 0)},
		{Label: "Snapped outlet", Value: fmt.Sprintf("%.5f, %.5f", s.OutletLat, s.OutletLon)},
		{Label: "Files", Value: fmt.Sprint(len(res.Files))},
	}))
	return nil
}

func watershedSummary(res *watershed.Result) *project.WatershedSummary {
	s := res.Stats
	return &project.WatershedSummary{
		AreaKm2:      s.AreaKm2,
		AreaHa:       s.AreaHa,
		PerimeterKm:  s.PerimeterKm,
		CellCount:    s.CellCount,
		SnappedLat:   s.OutletLat,
		SnappedLon:   s.OutletLon,
		EPSG:         s.EPSG,
		Bounds:       s.Bounds,
		Files:        res.Files,
		DelineatedAt: time.Now().UTC(),
	}
}

// useTUI reports whether the progress bar can be drawn.
func useTUI(cmd *cobra.Command) bool {
	if delineateNoTUI {
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
