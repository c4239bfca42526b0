package dem

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"hydroai/internal/httpclient"
	"hydroai/internal/raster"
)

// OpenTopography fetches clipped GeoTIFFs from the globaldem endpoint.
type OpenTopography struct {
	client *httpclient.Client
	apiKey string
	logger *zap.Logger
}

// NewOpenTopography creates the source.
func NewOpenTopography(client *httpclient.Client, apiKey string, logger *zap.Logger) *OpenTopography {
	return &OpenTopography{client: client, apiKey: apiKey, logger: logger}
}

func (o *OpenTopography) Name() string { return "opentopography" }

// Fetch downloads the DEM for req.
func (o *OpenTopography) Fetch(ctx context.Context, req Request) (string, error) {
	b := BoundsAround(req.Lat, req.Lon, req.BufferKm)
	o.logger.Info("requesting OpenTopography globaldem",
		zap.String("bounds", fmt.Sprintf("W=%.3f, S=%.3f, E=%.3f, N=%.3f", b.West, b.South, b.East, b.North)))

	q := url.Values{}
	q.Set("demtype", req.Dataset)
	q.Set("south", ftoa(b.South))
	q.Set("north", ftoa(b.North))
	q.Set("west", ftoa(b.West))
	q.Set("east", ftoa(b.East))
	q.Set("outputFormat", "GTiff")
	q.Set("API_Key", o.apiKey)

	body, err := o.client.Get(ctx, "API/globaldem", q)
	if err != nil {
		var he *httpclient.HTTPError
		if errors.As(err, &he) {
			o.logger.Error("OpenTopography HTTP error", zap.Int("status", he.StatusCode), zap.String("message", he.Body))
		}
		return "", err
	}
	if !raster.IsTIFF(body) {
		excerpt := string(body)
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return "", fmt.Errorf("response is not a GeoTIFF: %q", excerpt)
	}

	path := DefaultPath(req.OutputDir, req.Dataset, req.Lat, req.Lon)
	if err := writeAtomic(path, body); err != nil {
		return "", fmt.Errorf("failed to save DEM: %w", err)
	}
	return path, nil
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
