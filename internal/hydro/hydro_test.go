package hydro

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydroai/internal/raster"
)

// valley is a 5x5 V-shaped valley with 10 m cells draining south to (4, 2).
func valley() *raster.Grid {
	g := raster.New(5, 5, raster.GeoTransform{OriginX: 500000, OriginY: 8000050, PixelWidth: 10, PixelHeight: -10}, 31983)
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			g.Set(r, c, 100+10*math.Abs(float64(c-2))+float64(4-r))
		}
	}
	return g
}

func fromRows(rows [][]float64) *raster.Grid {
	g := raster.New(len(rows), len(rows[0]), raster.GeoTransform{PixelWidth: 10, PixelHeight: -10, OriginY: float64(10 * len(rows))}, 32723)
	for r, row := range rows {
		copy(g.Data[r*g.Cols:], row)
	}
	return g
}

func TestFillPits(t *testing.T) {
	g := fromRows([][]float64{
		{5, 5, 5},
		{5, 1, 6},
		{5, 7, 5},
	})
	assert.Equal(t, 1, FillPits(g))
	assert.Equal(t, 5.0, g.At(1, 1))
}

func TestFillDepressions(t *testing.T) {
	g := fromRows([][]float64{
		{9, 9, 9, 9, 9},
		{9, 2, 2, 2, 9},
		{9, 2, 1, 2, 9},
		{9, 2, 2, 2, 9},
		{9, 9, 4, 9, 9},
	})
	FillDepressions(g)
	for r := 1; r <= 3; r++ {
		for c := 1; c <= 3; c++ {
			assert.Equal(t, 4.0, g.At(r, c), "cell (%d, %d)", r, c)
		}
	}
	assert.Equal(t, 9.0, g.At(0, 0))
}

func TestResolveFlatsDrainsEveryInteriorCell(t *testing.T) {
	g := fromRows([][]float64{
		{10, 10, 10, 10, 10},
		{10, 10, 10, 10, 10},
		{10, 10, 10, 10, 10},
		{10, 10, 10, 10, 10},
		{10, 10, 5, 10, 10},
	})
	Condition(g)
	fd := FlowDirection(g)
	for r := 1; r < 4; r++ {
		for c := 1; c < 4; c++ {
			assert.NotEqual(t, NoFlow, fd.Code(r, c), "cell (%d, %d)", r, c)
		}
	}
	assertNoCycles(t, fd)
}

// assertNoCycles checks that accumulation at terminal cells adds up to the
// number of valid cells, which only holds for an acyclic flow graph.
func assertNoCycles(t *testing.T, fd *DirGrid) {
	t.Helper()
	acc := Accumulation(fd)
	total, valid := 0.0, 0
	for r := 0; r < fd.Rows; r++ {
		for c := 0; c < fd.Cols; c++ {
			if !fd.Valid[r*fd.Cols+c] {
				continue
			}
			valid++
			if _, _, ok := fd.Downstream(r, c); !ok {
				total += acc.At(r, c)
			}
		}
	}
	assert.Equal(t, float64(valid), total)
}

func TestValleyRouting(t *testing.T) {
	g := Condition(valley())
	assert.Equal(t, valley().Data, g.Data, "valley needs no conditioning")

	fd := FlowDirection(g)
	assert.Equal(t, South, fd.Code(2, 2))
	assert.Equal(t, East, fd.Code(2, 1))
	assert.Equal(t, West, fd.Code(2, 3))
	assert.Equal(t, NoFlow, fd.Code(4, 2))

	acc := Accumulation(fd)
	assert.Equal(t, 25.0, acc.At(4, 2))
	assert.Equal(t, 5.0, acc.At(0, 2))
	assert.Equal(t, 10.0, acc.At(1, 2))
	assertNoCycles(t, fd)

	r, c := SnapOutlet(acc, 3, 1, 1)
	assert.Equal(t, [2]int{4, 2}, [2]int{r, c})
	r, c = SnapOutlet(acc, 3, 1, 0)
	assert.Equal(t, [2]int{3, 1}, [2]int{r, c})

	m, err := Catchment(fd, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 25, m.Count)

	sub, err := Catchment(fd, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 15, sub.Count)
	assert.False(t, sub.In(3, 2))

	lengths := FlowLengths(fd, m, 4, 2)
	assert.Equal(t, 0.0, lengths[4*5+2])
	longest, lr, lc := LongestFlowPath(lengths, 5)
	assert.InDelta(t, 60.0, longest, 1e-9)
	assert.Equal(t, 0, lr)
	assert.Equal(t, 0, lc)

	streams := StreamCells(acc, 0.001) // 1000 m² = 10 cells
	n := 0
	for _, s := range streams {
		if s {
			n++
		}
	}
	assert.Equal(t, 4, n)
	assert.InDelta(t, 30.0, StreamLength(fd, m, streams), 1e-9)

	mg := MaskGrid(m, g)
	assert.Equal(t, 1.0, mg.At(0, 0))
	assert.True(t, mg.HasNoData)
}

func TestCatchmentOutletOutside(t *testing.T) {
	fd := FlowDirection(valley())
	_, err := Catchment(fd, 9, 9)
	assert.ErrorIs(t, err, ErrOutletOutside)

	g := valley()
	g.NoData, g.HasNoData = -1, true
	g.Set(2, 2, -1)
	fd = FlowDirection(g)
	_, err = Catchment(fd, 2, 2)
	assert.ErrorIs(t, err, ErrOutletOutside)
}

func TestNoDataRouting(t *testing.T) {
	g := valley()
	g.NoData, g.HasNoData = -9999, true
	g.Set(0, 0, -9999)
	fd := FlowDirection(g)
	assert.Equal(t, NoFlow, fd.Code(0, 0))
	assert.False(t, fd.Valid[0])
	acc := Accumulation(fd)
	assert.Equal(t, 0.0, acc.At(0, 0))
	assert.Equal(t, 24.0, acc.At(4, 2))
}

func TestSlope(t *testing.T) {
	g := raster.New(3, 3, raster.GeoTransform{PixelWidth: 10, PixelHeight: -10, OriginY: 30}, 32723)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			g.Set(r, c, float64(c))
		}
	}
	deg := Slope(g, 1, 1)
	assert.InDelta(t, math.Atan(0.1)*180/math.Pi, deg, 1e-9)
	assert.InDelta(t, 10.0, SlopePercent(deg), 1e-9)

	flat := raster.New(3, 3, g.Transform, 32723)
	assert.Equal(t, 0.0, Slope(flat, 0, 0))
}

func TestDirGridStepLength(t *testing.T) {
	fd := FlowDirection(valley())
	assert.InDelta(t, 10.0, fd.StepLength(2, 2), 1e-9)
	assert.Equal(t, 0.0, fd.StepLength(4, 2))
	assert.Equal(t, float64(South), fd.Grid().At(2, 2))
}
