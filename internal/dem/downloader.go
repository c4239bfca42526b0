// Package dem downloads digital elevation models for an area around a point.
// OpenTopography's global DEM API is used when an API key is configured;
// OpenElevation point lookups are the keyless fallback.
package dem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"hydroai/internal/config"
	"hydroai/internal/httpclient"
	"hydroai/internal/logging"
)

// ErrAllSourcesFailed is returned when no provider produced a DEM.
var ErrAllSourcesFailed = errors.New("all DEM sources failed")

// KilometersPerDegree converts a buffer in km to degrees.
const KilometersPerDegree = 111.0

// Request describes a DEM download.
type Request struct {
	Lat       float64
	Lon       float64
	BufferKm  float64
	Dataset   string
	OutputDir string
}

// Bounds is a lon/lat bounding box.
type Bounds struct {
	West, South, East, North float64
}

// BoundsAround returns the square box of bufferKm around (lat, lon).
func BoundsAround(lat, lon, bufferKm float64) Bounds {
	d := bufferKm / KilometersPerDegree
	return Bounds{West: lon - d, South: lat - d, East: lon + d, North: lat + d}
}

// Source is a DEM provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) (string, error)
}

// Downloader tries its sources in order until one succeeds.
type Downloader struct {
	sources []Source
	logger  *zap.Logger
}

// NewDownloader builds the provider chain from configuration. OpenTopography
// is skipped when no API key is set.
func NewDownloader(cfg *config.Config, logger *zap.Logger) *Downloader {
	log := logging.Named(logger, logging.CategoryDEM)
	d := &Downloader{logger: log}
	timeout := cfg.GetDEMTimeout()

	for _, p := range cfg.DEM.Providers {
		switch strings.ToLower(p) {
		case "opentopography":
			if cfg.DEM.OpenTopography.APIKey == "" {
				log.Warn("OpenTopography API key not found; set OPENTOPOGRAPHY_API_KEY",
					zap.String("portal", "https://portal.opentopography.org/myot"))
				continue
			}
			log.Info("OpenTopography API key detected")
			d.sources = append(d.sources, NewOpenTopography(
				httpclient.New(httpclient.Config{BaseURL: cfg.DEM.OpenTopography.BaseURL, Timeout: timeout}),
				cfg.DEM.OpenTopography.APIKey, log))
		case "openelevation":
			oe := cfg.DEM.OpenElevation
			d.sources = append(d.sources, NewOpenElevation(
				httpclient.New(httpclient.Config{BaseURL: oe.BaseURL, Timeout: timeout, RateLimit: oe.RatePerSecond}),
				OpenElevationOptions{GridSizeDeg: oe.GridSizeDeg, ResolutionDeg: oe.ResolutionDeg, BatchSize: oe.BatchSize},
				log))
		default:
			log.Warn("unknown DEM provider ignored", zap.String("provider", p))
		}
	}
	return d
}

// NewDownloaderWithSources builds a downloader over explicit sources.
func NewDownloaderWithSources(logger *zap.Logger, sources ...Source) *Downloader {
	return &Downloader{sources: sources, logger: logging.Named(logger, logging.CategoryDEM)}
}

// Sources returns the provider names in order.
func (d *Downloader) Sources() []string {
	names := make([]string, len(d.sources))
	for i, s := range d.sources {
		names[i] = s.Name()
	}
	return names
}

// Download fetches a DEM and returns the path of the written GeoTIFF.
func (d *Downloader) Download(ctx context.Context, req Request) (string, error) {
	if req.Dataset == "" {
		req.Dataset = "SRTMGL1"
	}
	if req.BufferKm <= 0 {
		req.BufferKm = 25
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create DEM directory: %w", err)
	}

	d.logger.Info("downloading DEM",
		zap.Float64("lat", req.Lat),
		zap.Float64("lon", req.Lon),
		zap.String("dataset", req.Dataset),
		zap.Float64("buffer_km", req.BufferKm))

	var errs []error
	for _, s := range d.sources {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		path, err := s.Fetch(ctx, req)
		if err == nil {
			if info, statErr := os.Stat(path); statErr == nil {
				d.logger.Info("DEM download complete",
					zap.String("source", s.Name()),
					zap.String("file", path),
					zap.Float64("size_mb", float64(info.Size())/(1024*1024)))
			}
			return path, nil
		}
		d.logger.Warn("DEM source failed, trying next", zap.String("source", s.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no sources configured"))
	}
	err := fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	d.logger.Error("all DEM sources failed", zap.Error(err))
	return "", err
}

// writeAtomic writes data to path through a temporary file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
