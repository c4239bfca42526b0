package analysis

import (
	"context"
	"fmt"
)

// LULC is the land use and land cover analyzer. Its data source (MapBiomas
// collections served through Earth Engine) needs credentials and a client
// this build does not carry, so it always reports ErrUnavailable.
type LULC struct{}

// NewLULC creates the land use analyzer.
func NewLULC() *LULC { return &LULC{} }

func (l *LULC) Name() string  { return "lulc" }
func (l *LULC) Title() string { return "Uso e cobertura do solo" }

func (l *LULC) Run(ctx context.Context, in *Input) (*Output, error) {
	return nil, fmt.Errorf("%w: land use classification requires MapBiomas via Earth Engine", ErrUnavailable)
}
