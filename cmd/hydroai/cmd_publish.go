package main

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"

	"hydroai/internal/format"
	"hydroai/internal/storage"
)

var publishCmd = &cobra.Command{
	Use:   "publish [project]",
	Short: "Upload project results to S3-compatible storage",
	Long: `Uploads project.json, results/, reports/ and data/processed/ to the
bucket configured under storage (MinIO, S3 or any S3-compatible service).
Keys are <prefix>/<project-dir>/<relative path>.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	_, projectPath, err := resolveProject(args[0])
	if err != nil {
		return err
	}
	c := currentConfig()
	if !c.Storage.Enabled {
		return fmt.Errorf("%w: set storage.enabled or HYDROAI_S3_ENDPOINT", storage.ErrDisabled)
	}
	client, err := storage.NewS3Client(c.Storage)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	uploaded, err := storage.NewPublisher(client, c.Storage.Bucket, c.Storage.Prefix, currentLogger()).Publish(ctx, projectPath)
	if err != nil {
		return err
	}
	var total int64
	for _, u := range uploaded {
		total += u.Size
	}
	fmt.Fprintln(cmd.OutOrStdout(), styles.Check("%d files (%s MB) published to s3://%s/%s",
		len(uploaded), format.Number(float64(total)/(1024*1024), 2), c.Storage.Bucket, path.Join(c.Storage.Prefix, filepath.Base(projectPath))))
	return nil
}
