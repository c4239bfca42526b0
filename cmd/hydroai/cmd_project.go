package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hydroai/cmd/hydroai/ui"
	"hydroai/internal/format"
	"hydroai/internal/project"
)

const timestampLayout = "02/01/2006 15:04"

var (
	projectLat, projectLon float64
	projectDescription     string
	projectJSON            bool
)

// projectCmd groups project management commands
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, list, inspect and delete projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project for an outlet point",
	Long: `Creates a project directory with data/raw, data/processed, results,
reports and cache subdirectories and a project.json describing it.

Example:
  hydroai project create "Arroio Grande" --lat -29.409 --lon -56.737`,
	Args: cobra.ExactArgs(1),
	RunE: runProjectCreate,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, most recently modified first",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var projectShowCmd = &cobra.Command{
	Use:   "show [project]",
	Short: "Show a project's metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete [project]",
	Short: "Delete a project directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

var projectSizeCmd = &cobra.Command{
	Use:   "size [project]",
	Short: "Show the disk usage of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectSize,
}

func init() {
	projectCreateCmd.Flags().Float64Var(&projectLat, "lat", 0, "Outlet latitude (WGS 84)")
	projectCreateCmd.Flags().Float64Var(&projectLon, "lon", 0, "Outlet longitude (WGS 84)")
	projectCreateCmd.Flags().StringVarP(&projectDescription, "description", "d", "", "Project description")
	_ = projectCreateCmd.MarkFlagRequired("lat")
	_ = projectCreateCmd.MarkFlagRequired("lon")

	projectShowCmd.Flags().BoolVar(&projectJSON, "json", false, "Print project.json as is")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectSizeCmd)
}

func validOutlet(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %g out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %g out of range [-180, 180]", lon)
	}
	return nil
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	if err := validOutlet(projectLat, projectLon); err != nil {
		return err
	}
	mgr, err := projectManager()
	if err != nil {
		return err
	}
	path, err := mgr.Create(args[0], projectLat, projectLon, projectDescription)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Check("project created: %s", path))
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	mgr, err := projectManager()
	if err != nil {
		return err
	}
	list, err := mgr.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("no projects in "+mgr.Base()))
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tAREA\tMODIFIED")
	for _, p := range list {
		area := "-"
		if p.Watershed != nil {
			area = format.Area(p.Watershed.AreaKm2*1e6, "auto")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Status, area, format.DateTime(p.LastModified, timestampLayout))
	}
	return tw.Flush()
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	mgr, path, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	meta, err := mgr.Load(path)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if projectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}
	fmt.Fprintln(out, styles.Panel(meta.Name, projectFields(path, meta)))
	return nil
}

func projectFields(path string, meta *project.Metadata) []ui.Field {
	fields := []ui.Field{
		{Label: "Path", Value: path},
		{Label: "Status", Value: string(meta.Status)},
		{Label: "Outlet", Value: fmt.Sprintf("%.5f, %.5f", meta.Outlet.Lat, meta.Outlet.Lon)},
		{Label: "Created", Value: format.DateTime(meta.CreatedAt, timestampLayout)},
		{Label: "Modified", Value: format.DateTime(meta.LastModified, timestampLayout)},
	}
	if meta.Description != "" {
		fields = append(fields, ui.Field{Label: "Description", Value: meta.Description})
	}
	if meta.DEMPath != "" {
		fields = append(fields, ui.Field{Label: "DEM", Value: meta.DEMPath})
	}
	if ws := meta.Watershed; ws != nil {
		fields = append(fields,
			ui.Field{Label: "Area", Value: format.Area(ws.AreaKm2*1e6, "auto")},
			ui.Field{Label: "Perimeter", Value: format.Number(ws.PerimeterKm, 2) + " km"},
			ui.Field{Label: "Snapped outlet", Value: fmt.Sprintf("%.5f, %.5f", ws.SnappedLat, ws.SnappedLon)},
		)
	}
	if len(meta.AnalyzersRun) > 0 {
		fields = append(fields, ui.Field{Label: "Analyses", Value: fmt.Sprint(meta.AnalyzersRun)})
	}
	return fields
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	mgr, path, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	if err := mgr.Delete(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Check("project deleted: %s", path))
	return nil
}

func runProjectSize(cmd *cobra.Command, args []string) error {
	mgr, path, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	mb, err := mgr.SizeMB(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s MB\n", format.Number(mb, 2))
	return nil
}
