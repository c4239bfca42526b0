package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// SampleType selects the on-disk sample encoding.
type SampleType int

const (
	Float32 SampleType = iota
	Uint8
	Int16
	Int32
)

func (s SampleType) bits() int {
	switch s {
	case Uint8:
		return 8
	case Int16:
		return 16
	default:
		return 32
	}
}

func (s SampleType) format() int {
	switch s {
	case Float32:
		return 3
	case Uint8:
		return 1
	default:
		return 2
	}
}

// Options controls Encode.
type Options struct {
	Type     SampleType
	Compress bool // Deflate
	// RowsPerStrip defaults to the number of rows that fit in ~64 KiB.
	RowsPerStrip int
}

// Write encodes g to path, creating parent directories.
func Write(path string, g *Grid, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, g, opts); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes g as a little-endian GeoTIFF with one band.
func Encode(w io.Writer, g *Grid, opts Options) error {
	if g.Rows <= 0 || g.Cols <= 0 || len(g.Data) != g.Rows*g.Cols {
		return fmt.Errorf("invalid grid %dx%d with %d cells", g.Rows, g.Cols, len(g.Data))
	}
	le := binary.LittleEndian
	size := opts.Type.bits() / 8

	rps := opts.RowsPerStrip
	if rps <= 0 {
		rps = max(1, 65536/(g.Cols*size))
	}
	rps = min(rps, g.Rows)

	var strips [][]byte
	for r0 := 0; r0 < g.Rows; r0 += rps {
		r1 := min(r0+rps, g.Rows)
		raw := make([]byte, 0, (r1-r0)*g.Cols*size)
		for _, v := range g.Data[r0*g.Cols : r1*g.Cols] {
			raw = appendSample(raw, v, opts.Type, g)
		}
		if opts.Compress {
			var zb bytes.Buffer
			zw := zlib.NewWriter(&zb)
			if _, err := zw.Write(raw); err != nil {
				return err
			}
			if err := zw.Close(); err != nil {
				return err
			}
			raw = zb.Bytes()
		}
		strips = append(strips, raw)
	}

	compression := uint16(compressionNone)
	if opts.Compress {
		compression = compressionDeflate
	}

	entries := []outEntry{
		shortEntry(tagImageWidth, uint16(g.Cols)),
		shortEntry(tagImageLength, uint16(g.Rows)),
		shortEntry(tagBitsPerSample, uint16(opts.Type.bits())),
		shortEntry(tagCompression, compression),
		shortEntry(tagPhotometric, 1),
		shortEntry(tagSamplesPerPixel, 1),
		shortEntry(tagRowsPerStrip, uint16(rps)),
		shortEntry(tagPlanarConfig, 1),
		shortEntry(tagSampleFormat, uint16(opts.Type.format())),
	}
	if g.Cols > math.MaxUint16 || g.Rows > math.MaxUint16 {
		entries[0] = longEntry(tagImageWidth, uint32(g.Cols))
		entries[1] = longEntry(tagImageLength, uint32(g.Rows))
		entries[6] = longEntry(tagRowsPerStrip, uint32(rps))
	}

	counts := make([]uint32, len(strips))
	for i, s := range strips {
		counts[i] = uint32(len(s))
	}
	// Offsets are patched once the IFD size is known.
	entries = append(entries,
		outEntry{tag: tagStripOffsets, typ: typeLong, count: uint32(len(strips)), data: make([]byte, 4*len(strips))},
		outEntry{tag: tagStripByteCounts, typ: typeLong, count: uint32(len(strips)), data: longs(counts)},
	)

	t := g.Transform
	entries = append(entries,
		doubleEntry(tagModelPixelScale, t.PixelWidth, -t.PixelHeight, 0),
		doubleEntry(tagModelTiepoint, 0, 0, 0, t.OriginX, t.OriginY, 0),
		geoKeyEntry(g),
	)
	if g.HasNoData {
		nd := strconv.FormatFloat(g.NoData, 'g', -1, 64) + "\x00"
		entries = append(entries, outEntry{tag: tagGDALNoData, typ: typeASCII, count: uint32(len(nd)), data: []byte(nd)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	const ifdOffset = 8
	ifdSize := 2 + 12*len(entries) + 4
	next := ifdOffset + ifdSize
	valueOffsets := make([]int, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			next += next & 1
			valueOffsets[i] = next
			next += len(e.data)
		}
	}
	offsets := make([]uint32, len(strips))
	for i, s := range strips {
		next += next & 1
		offsets[i] = uint32(next)
		next += len(s)
	}
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			entries[i].data = longs(offsets)
		}
	}

	out := make([]byte, 0, next)
	out = append(out, 'I', 'I', 42, 0)
	out = le.AppendUint32(out, ifdOffset)
	out = le.AppendUint16(out, uint16(len(entries)))
	for i, e := range entries {
		out = le.AppendUint16(out, e.tag)
		out = le.AppendUint16(out, e.typ)
		out = le.AppendUint32(out, e.count)
		if len(e.data) > 4 {
			out = le.AppendUint32(out, uint32(valueOffsets[i]))
		} else {
			var inline [4]byte
			copy(inline[:], e.data)
			out = append(out, inline[:]...)
		}
	}
	out = le.AppendUint32(out, 0)
	for i, e := range entries {
		if len(e.data) > 4 {
			out = pad(out, valueOffsets[i])
			out = append(out, e.data...)
		}
	}
	for i, s := range strips {
		out = pad(out, int(offsets[i]))
		out = append(out, s...)
	}

	_, err := w.Write(out)
	return err
}

func pad(b []byte, to int) []byte {
	for len(b) < to {
		b = append(b, 0)
	}
	return b
}

func appendSample(b []byte, v float64, typ SampleType, g *Grid) []byte {
	le := binary.LittleEndian
	if math.IsNaN(v) && typ != Float32 && g.HasNoData {
		v = g.NoData
	}
	switch typ {
	case Uint8:
		return append(b, uint8(clamp(v, 0, math.MaxUint8)))
	case Int16:
		return le.AppendUint16(b, uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
	case Int32:
		return le.AppendUint32(b, uint32(int32(clamp(v, math.MinInt32, math.MaxInt32))))
	default:
		return le.AppendUint32(b, math.Float32bits(float32(v)))
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.Round(v)))
}

func shortEntry(tag uint16, v uint16) outEntry {
	return outEntry{tag: tag, typ: typeShort, count: 1, data: binary.LittleEndian.AppendUint16(nil, v)}
}

func longEntry(tag uint16, v uint32) outEntry {
	return outEntry{tag: tag, typ: typeLong, count: 1, data: binary.LittleEndian.AppendUint32(nil, v)}
}

func longs(vs []uint32) []byte {
	b := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func doubleEntry(tag uint16, vs ...float64) outEntry {
	b := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return outEntry{tag: tag, typ: typeDouble, count: uint32(len(vs)), data: b}
}

func geoKeyEntry(g *Grid) outEntry {
	keys := [][4]uint16{{keyRasterType, 0, 1, 1}} // PixelIsArea
	switch {
	case g.EPSG == 0 && g.IsGeographic():
		keys = append(keys, [4]uint16{keyModelType, 0, 1, modelTypeGeographic})
	case g.EPSG == 0:
		keys = append(keys, [4]uint16{keyModelType, 0, 1, modelTypeProjected})
	case g.IsGeographic():
		keys = append(keys,
			[4]uint16{keyModelType, 0, 1, modelTypeGeographic},
			[4]uint16{keyGeographicType, 0, 1, uint16(g.EPSG)})
	default:
		keys = append(keys,
			[4]uint16{keyModelType, 0, 1, modelTypeProjected},
			[4]uint16{keyProjectedType, 0, 1, uint16(g.EPSG)})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i][0] < keys[j][0] })

	vals := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		vals = append(vals, k[:]...)
	}
	b := make([]byte, 0, 2*len(vals))
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return outEntry{tag: tagGeoKeyDirectory, typ: typeShort, count: uint32(len(vals)), data: b}
}
