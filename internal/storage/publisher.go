package storage

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"hydroai/internal/logging"
	"hydroai/internal/project"
)

// contentTypes covers the artifact formats a project produces.
var contentTypes = map[string]string{
	".json":    "application/json",
	".geojson": "application/geo+json",
	".gpkg":    "application/geopackage+sqlite3",
	".tif":     "image/tiff",
	".tiff":    "image/tiff",
	".md":      "text/markdown; charset=utf-8",
	".html":    "text/html; charset=utf-8",
	".shp":     "application/octet-stream",
	".shx":     "application/octet-stream",
	".dbf":     "application/dbase",
	".prj":     "text/plain; charset=utf-8",
}

// ContentType returns the MIME type used for a file name.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Uploaded describes one published object.
type Uploaded struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Publisher uploads project results, reports and processed layers.
type Publisher struct {
	store  ObjectStore
	bucket string
	prefix string
	logger *zap.Logger
}

// NewPublisher creates a Publisher writing under bucket/prefix.
func NewPublisher(store ObjectStore, bucket, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:  store,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logging.Named(logger, logging.CategoryStorage),
	}
}

// Publish uploads project.json plus everything under results/, reports/ and
// data/processed/ to <prefix>/<project-dir>/..., keeping relative paths.
func (p *Publisher) Publish(ctx context.Context, projectPath string) ([]Uploaded, error) {
	if _, err := os.Stat(filepath.Join(projectPath, project.MetadataFile)); err != nil {
		return nil, fmt.Errorf("%w: %s", project.ErrNotFound, projectPath)
	}
	if err := p.store.EnsureBucket(ctx, p.bucket); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", p.bucket, err)
	}

	files := []string{filepath.Join(projectPath, project.MetadataFile)}
	for _, dir := range []string{project.ResultsDir(projectPath), project.ReportsDir(projectPath), project.ProcessedDir(projectPath)} {
		err := filepath.WalkDir(dir, func(name string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if !d.IsDir() && !strings.HasSuffix(name, ".tmp") {
				files = append(files, name)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	base := filepath.Base(projectPath)
	var uploaded []Uploaded
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}
		rel, err := filepath.Rel(projectPath, f)
		if err != nil {
			return uploaded, err
		}
		key := path.Join(p.prefix, base, filepath.ToSlash(rel))
		size, err := p.upload(ctx, f, key)
		if err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", rel, err)
		}
		uploaded = append(uploaded, Uploaded{Key: key, Size: size})
		p.logger.Debug("uploaded", zap.String("key", key), zap.Int64("bytes", size))
	}
	p.logger.Info("project published",
		zap.String("bucket", p.bucket),
		zap.String("project", base),
		zap.Int("objects", len(uploaded)))
	return uploaded, nil
}

func (p *Publisher) upload(ctx context.Context, file, key string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := p.store.PutObject(ctx, p.bucket, key, f, info.Size(), ContentType(file)); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
