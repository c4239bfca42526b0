package raster

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGrid() *Grid {
	g := New(3, 4, GeoTransform{OriginX: -47.5, OriginY: -15.2, PixelWidth: 0.001, PixelHeight: -0.001}, 4326)
	for i := range g.Data {
		g.Data[i] = 800 + float64(i)*1.5
	}
	g.NoData, g.HasNoData = -9999, true
	g.Data[5] = -9999
	return g
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts Options
	}{
		{"float32", Options{Type: Float32}},
		{"float32 deflate", Options{Type: Float32, Compress: true}},
		{"multiple strips", Options{Type: Float32, RowsPerStrip: 1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := sampleGrid()
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, g, tc.opts))
			assert.True(t, IsTIFF(buf.Bytes()))

			got, err := Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, g.Rows, got.Rows)
			assert.Equal(t, g.Cols, got.Cols)
			assert.Equal(t, 4326, got.EPSG)
			assert.True(t, got.HasNoData)
			assert.Equal(t, -9999.0, got.NoData)
			assert.InDelta(t, g.Transform.OriginX, got.Transform.OriginX, 1e-12)
			assert.InDelta(t, g.Transform.OriginY, got.Transform.OriginY, 1e-12)
			assert.InDelta(t, g.Transform.PixelHeight, got.Transform.PixelHeight, 1e-12)
			if diff := cmp.Diff(g.Data, got.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
			assert.False(t, got.Valid(1, 1))
		})
	}
}

func TestEncodeIntegerTypes(t *testing.T) {
	g := New(2, 2, GeoTransform{OriginX: 500000, OriginY: 8000000, PixelWidth: 30, PixelHeight: -30}, 31983)
	copy(g.Data, []float64{0, 1, 255, 300})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, g, Options{Type: Uint8, Compress: true}))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 255, 255}, got.Data)
	assert.Equal(t, 31983, got.EPSG)
	assert.False(t, got.IsGeographic())

	copy(g.Data, []float64{-5, 12, -70000, 40000})
	buf.Reset()
	require.NoError(t, Encode(&buf, g, Options{Type: Int16}))
	got, err = Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{-5, 12, math.MinInt16, math.MaxInt16}, got.Data)

	buf.Reset()
	require.NoError(t, Encode(&buf, g, Options{Type: Int32}))
	got, err = Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{-5, 12, -70000, 40000}, got.Data)
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dem.tif")
	g := sampleGrid()
	require.NoError(t, Write(path, g, Options{Compress: true}))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, g.Data, got.Data)
}

// tiffBuilder writes a big-endian baseline TIFF for decoder tests. Image
// data is data as one strip, or chunks as strips or tiles.
type tiffBuilder struct {
	entries [][3]uint32 // tag, type, value (inline SHORT/LONG)
	data    []byte
	chunks  [][]byte
	tiled   bool
}

func (b *tiffBuilder) bytes() []byte {
	chunks := b.chunks
	if chunks == nil {
		chunks = [][]byte{b.data}
	}
	offTag, cntTag := uint16(tagStripOffsets), uint16(tagStripByteCounts)
	if b.tiled {
		offTag, cntTag = tagTileOffsets, tagTileByteCounts
	}

	be := binary.BigEndian
	out := []byte{'M', 'M', 0, 42}
	out = be.AppendUint32(out, 8)
	out = be.AppendUint16(out, uint16(len(b.entries)+2))
	ifdEnd := uint32(8 + 2 + 12*(len(b.entries)+2) + 4)

	// Offset and count arrays for more than one chunk follow the IFD.
	k := uint32(len(chunks))
	pos := ifdEnd
	if k > 1 {
		pos += 8 * k
	}
	offsets := make([]uint32, k)
	counts := make([]uint32, k)
	for i, c := range chunks {
		offsets[i], counts[i] = pos, uint32(len(c))
		pos += uint32(len(c))
	}

	for _, e := range b.entries {
		out = be.AppendUint16(out, uint16(e[0]))
		out = be.AppendUint16(out, uint16(e[1]))
		out = be.AppendUint32(out, 1)
		if e[1] == typeShort {
			out = be.AppendUint16(out, uint16(e[2]))
			out = be.AppendUint16(out, 0)
		} else {
			out = be.AppendUint32(out, e[2])
		}
	}
	for i, tag := range []uint16{offTag, cntTag} {
		vals := offsets
		if i == 1 {
			vals = counts
		}
		out = be.AppendUint16(out, tag)
		out = be.AppendUint16(out, typeLong)
		out = be.AppendUint32(out, k)
		if k == 1 {
			out = be.AppendUint32(out, vals[0])
		} else {
			out = be.AppendUint32(out, ifdEnd+uint32(i)*4*k)
		}
	}
	out = be.AppendUint32(out, 0)
	if k > 1 {
		for _, v := range append(offsets, counts...) {
			out = be.AppendUint32(out, v)
		}
	}
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func TestDecodeBigEndianPredictor(t *testing.T) {
	be := binary.BigEndian
	// Row values 100, 101, 103 stored as horizontal differences.
	var data []byte
	for _, d := range []uint16{100, 1, 2, 200, 0xFFFF, 0xFFFF} {
		data = be.AppendUint16(data, d)
	}
	b := &tiffBuilder{
		entries: [][3]uint32{
			{tagImageWidth, typeShort, 3},
			{tagImageLength, typeShort, 2},
			{tagBitsPerSample, typeShort, 16},
			{tagCompression, typeShort, compressionNone},
			{tagSamplesPerPixel, typeShort, 1},
			{tagRowsPerStrip, typeShort, 2},
			{tagPredictor, typeShort, 2},
			{tagSampleFormat, typeShort, 2},
		},
		data: data,
	}
	g, err := Decode(bytes.NewReader(b.bytes()))
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 103, 200, 199, 198}, g.Data)
	// No georeferencing: unit pixels.
	assert.Equal(t, 1.0, g.Transform.PixelWidth)
}

func TestDecodePackBits(t *testing.T) {
	// 4 literal bytes then a run of 2.
	data := []byte{3, 1, 2, 3, 4, 0xFF, 9}
	b := &tiffBuilder{
		entries: [][3]uint32{
			{tagImageWidth, typeShort, 3},
			{tagImageLength, typeShort, 2},
			{tagBitsPerSample, typeShort, 8},
			{tagCompression, typeShort, compressionPackBits},
		},
		data: data,
	}
	g, err := Decode(bytes.NewReader(b.bytes()))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 9, 9}, g.Data)
}

// floatPredictRow applies TIFF predictor 3 to one row of float32 samples.
func floatPredictRow(vals []float32) []byte {
	n := len(vals)
	row := make([]byte, 4*n)
	for i, v := range vals {
		bits := math.Float32bits(v)
		for b := 0; b < 4; b++ {
			row[b*n+i] = byte(bits >> (8 * (3 - b)))
		}
	}
	for i := len(row) - 1; i > 0; i-- {
		row[i] -= row[i-1]
	}
	return row
}

func deflate(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(b)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// lzwCompress encodes b for TIFF. Short inputs never reach the code width
// change where TIFF's variant departs from compress/lzw.
func lzwCompress(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, lzw.MSB, 8)
	_, err := w.Write(b)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecodeChunkLayouts(t *testing.T) {
	// 20 x 18 float32 in 16 x 16 tiles: the right and bottom tiles are partial.
	tiledWant := make([]float64, 18*20)
	var tiles [][]byte
	for tr := 0; tr < 2; tr++ {
		for tc := 0; tc < 2; tc++ {
			var tile []byte
			for r := 0; r < 16; r++ {
				row := make([]float32, 16)
				for c := range row {
					gr, gc := tr*16+r, tc*16+c
					if gr < 18 && gc < 20 {
						v := float32(500 + gr*20 + gc) + 0.25
						row[c] = v
						tiledWant[gr*20+gc] = float64(v)
					}
				}
				tile = append(tile, floatPredictRow(row)...)
			}
			tiles = append(tiles, deflate(t, tile))
		}
	}

	// 5 x 4 signed 16-bit in two LZW strips of two rows.
	lzwWant := make([]float64, 4*5)
	var strips [][]byte
	for s := 0; s < 2; s++ {
		var raw []byte
		for i := s * 10; i < (s+1)*10; i++ {
			v := int16(i*37 - 200)
			lzwWant[i] = float64(v)
			raw = binary.BigEndian.AppendUint16(raw, uint16(v))
		}
		strips = append(strips, lzwCompress(t, raw))
	}

	tests := []struct {
		name       string
		b          *tiffBuilder
		rows, cols int
		want       []float64
	}{
		{
			name: "tiled deflate floating point predictor",
			b: &tiffBuilder{
				entries: [][3]uint32{
					{tagImageWidth, typeShort, 20},
					{tagImageLength, typeShort, 18},
					{tagBitsPerSample, typeShort, 32},
					{tagCompression, typeShort, compressionDeflate},
					{tagSamplesPerPixel, typeShort, 1},
					{tagPredictor, typeShort, 3},
					{tagTileWidth, typeShort, 16},
					{tagTileLength, typeShort, 16},
					{tagSampleFormat, typeShort, 3},
				},
				chunks: tiles,
				tiled:  true,
			},
			rows: 18, cols: 20, want: tiledWant,
		},
		{
			name: "lzw strips",
			b: &tiffBuilder{
				entries: [][3]uint32{
					{tagImageWidth, typeShort, 5},
					{tagImageLength, typeShort, 4},
					{tagBitsPerSample, typeShort, 16},
					{tagCompression, typeShort, compressionLZW},
					{tagSamplesPerPixel, typeShort, 1},
					{tagRowsPerStrip, typeShort, 2},
					{tagSampleFormat, typeShort, 2},
				},
				chunks: strips,
			},
			rows: 4, cols: 5, want: lzwWant,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Decode(bytes.NewReader(tt.b.bytes()))
			require.NoError(t, err)
			assert.Equal(t, tt.rows, g.Rows)
			assert.Equal(t, tt.cols, g.Cols)
			if diff := cmp.Diff(tt.want, g.Data); diff != "" {
				t.Errorf("data mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeUnsupported(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("II+\x00\x08\x00\x00\x00\x00\x00\x00\x00")))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Decode(bytes.NewReader([]byte("GIF89a....")))
	assert.ErrorIs(t, err, ErrUnsupported)

	b := &tiffBuilder{
		entries: [][3]uint32{
			{tagImageWidth, typeShort, 1},
			{tagImageLength, typeShort, 1},
			{tagBitsPerSample, typeShort, 8},
			{tagCompression, typeShort, 7}, // JPEG
		},
		data: []byte{0},
	}
	_, err = Decode(bytes.NewReader(b.bytes()))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestUndoFloatingPoint(t *testing.T) {
	vals := []float32{1.5, -2.25}
	out := undoFloatingPoint(floatPredictRow(vals), 4, 1)
	for i, v := range vals {
		got := math.Float32frombits(binary.BigEndian.Uint32(out[i*4:]))
		assert.Equal(t, v, got)
	}
}

func TestGridHelpers(t *testing.T) {
	g := sampleGrid()
	r, c, ok := g.Index(-47.4985, -15.2015)
	require.True(t, ok)
	assert.Equal(t, 1, r)
	assert.Equal(t, 1, c)

	_, _, ok = g.Index(0, 0)
	assert.False(t, ok)

	assert.True(t, g.IsGeographic())
	dx, dy := g.CellSizeMeters(0)
	assert.InDelta(t, 107.4, dx, 0.5)
	assert.InDelta(t, 110.574, dy, 1e-9)

	s := g.Summary()
	assert.Equal(t, 11, s.Count)
	assert.Equal(t, 800.0, s.Min)

	minX, minY, maxX, maxY := g.Bounds()
	assert.InDelta(t, -47.5, minX, 1e-12)
	assert.InDelta(t, -15.203, minY, 1e-12)
	assert.InDelta(t, -47.496, maxX, 1e-12)
	assert.InDelta(t, -15.2, maxY, 1e-12)
}
