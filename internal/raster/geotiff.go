package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"
)

// TIFF tags used by the codec.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

// Compression schemes.
const (
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionAdobeZip = 32946
)

// GeoKeys.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
	userDefined         = 32767
)

// TIFF field types.
const (
	typeByte      = 1
	typeASCII     = 2
	typeShort     = 3
	typeLong      = 4
	typeRational  = 5
	typeSByte     = 6
	typeUndefined = 7
	typeSShort    = 8
	typeSLong     = 9
	typeSRational = 10
	typeFloat     = 11
	typeDouble    = 12
)

var typeSizes = map[uint16]int{
	typeByte: 1, typeASCII: 1, typeShort: 2, typeLong: 4, typeRational: 8,
	typeSByte: 1, typeUndefined: 1, typeSShort: 2, typeSLong: 4, typeSRational: 8,
	typeFloat: 4, typeDouble: 8,
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	raw   []byte
}

type decoder struct {
	buf     []byte
	order   binary.ByteOrder
	entries map[uint16]ifdEntry
}

// Read decodes the first image of a GeoTIFF file.
func Read(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return g, nil
}

// Decode decodes the first image of a GeoTIFF stream.
func Decode(r io.Reader) (*Grid, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: file too short", ErrUnsupported)
	}

	d := &decoder{buf: buf, entries: make(map[uint16]ifdEntry)}
	switch string(buf[:2]) {
	case "II":
		d.order = binary.LittleEndian
	case "MM":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a TIFF file", ErrUnsupported)
	}
	switch d.order.Uint16(buf[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: bad TIFF magic", ErrUnsupported)
	}

	if err := d.readIFD(int(d.order.Uint32(buf[4:8]))); err != nil {
		return nil, err
	}
	return d.decodeImage()
}

// IsTIFF reports whether b starts with a classic or big TIFF header.
func IsTIFF(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	switch string(b[:4]) {
	case "II*\x00", "MM\x00*", "II+\x00", "MM\x00+":
		return true
	}
	return false
}

func (d *decoder) readIFD(off int) error {
	if off < 8 || off+2 > len(d.buf) {
		return fmt.Errorf("%w: IFD offset out of range", ErrUnsupported)
	}
	n := int(d.order.Uint16(d.buf[off:]))
	p := off + 2
	if p+n*12 > len(d.buf) {
		return fmt.Errorf("%w: truncated IFD", ErrUnsupported)
	}
	for i := 0; i < n; i, p = i+1, p+12 {
		e := ifdEntry{
			tag:   d.order.Uint16(d.buf[p:]),
			typ:   d.order.Uint16(d.buf[p+2:]),
			count: d.order.Uint32(d.buf[p+4:]),
		}
		size, ok := typeSizes[e.typ]
		if !ok {
			continue
		}
		total := size * int(e.count)
		if total <= 4 {
			e.raw = d.buf[p+8 : p+8+total]
		} else {
			vo := int(d.order.Uint32(d.buf[p+8:]))
			if vo < 0 || vo+total > len(d.buf) {
				return fmt.Errorf("%w: tag %d data out of range", ErrUnsupported, e.tag)
			}
			e.raw = d.buf[vo : vo+total]
		}
		d.entries[e.tag] = e
	}
	return nil
}

func (d *decoder) uints(tag uint16) []uint64 {
	e, ok := d.entries[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case typeByte, typeUndefined:
			out[i] = uint64(e.raw[i])
		case typeShort:
			out[i] = uint64(d.order.Uint16(e.raw[i*2:]))
		case typeLong:
			out[i] = uint64(d.order.Uint32(e.raw[i*4:]))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) first(tag uint16, def uint64) uint64 {
	if v := d.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (d *decoder) floats(tag uint16) []float64 {
	e, ok := d.entries[tag]
	if !ok {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case typeDouble:
			out[i] = math.Float64frombits(d.order.Uint64(e.raw[i*8:]))
		case typeFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.raw[i*4:])))
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) ascii(tag uint16) string {
	e, ok := d.entries[tag]
	if !ok || e.typ != typeASCII {
		return ""
	}
	return strings.TrimRight(string(e.raw), "\x00 ")
}

type layout struct {
	width, height   int
	bps, format     int
	spp             int
	planar          int
	compression     int
	predictor       int
	chunkW, chunkH  int
	offsets, counts []uint64
	tiled           bool
}

func (d *decoder) layout() (*layout, error) {
	l := &layout{
		width:       int(d.first(tagImageWidth, 0)),
		height:      int(d.first(tagImageLength, 0)),
		spp:         int(d.first(tagSamplesPerPixel, 1)),
		format:      int(d.first(tagSampleFormat, 1)),
		planar:      int(d.first(tagPlanarConfig, 1)),
		compression: int(d.first(tagCompression, compressionNone)),
		predictor:   int(d.first(tagPredictor, 1)),
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, fmt.Errorf("%w: missing image dimensions", ErrUnsupported)
	}
	bps := d.uints(tagBitsPerSample)
	if len(bps) == 0 {
		l.bps = 1
	} else {
		l.bps = int(bps[0])
		for _, b := range bps {
			if int(b) != l.bps {
				return nil, fmt.Errorf("%w: mixed bits per sample", ErrUnsupported)
			}
		}
	}
	switch l.bps {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, l.bps)
	}

	if _, ok := d.entries[tagTileOffsets]; ok {
		l.tiled = true
		l.chunkW = int(d.first(tagTileWidth, 0))
		l.chunkH = int(d.first(tagTileLength, 0))
		l.offsets = d.uints(tagTileOffsets)
		l.counts = d.uints(tagTileByteCounts)
	} else {
		l.chunkW = l.width
		l.chunkH = int(d.first(tagRowsPerStrip, uint64(l.height)))
		if l.chunkH > l.height || l.chunkH <= 0 {
			l.chunkH = l.height
		}
		l.offsets = d.uints(tagStripOffsets)
		l.counts = d.uints(tagStripByteCounts)
	}
	if l.chunkW <= 0 || l.chunkH <= 0 || len(l.offsets) == 0 || len(l.offsets) != len(l.counts) {
		return nil, fmt.Errorf("%w: invalid strip/tile layout", ErrUnsupported)
	}
	return l, nil
}

func (d *decoder) decodeImage() (*Grid, error) {
	l, err := d.layout()
	if err != nil {
		return nil, err
	}

	g := &Grid{Rows: l.height, Cols: l.width, Data: make([]float64, l.width*l.height)}
	if err := d.georeference(g); err != nil {
		return nil, err
	}
	if nd := d.ascii(tagGDALNoData); nd != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(nd), 64); err == nil {
			g.NoData, g.HasNoData = v, true
		}
	}

	// Pixel-interleaved chunks carry spp samples per pixel; planar chunks
	// carry one band each and band 1 comes first.
	samplesPerChunkPixel := l.spp
	if l.planar == 2 {
		samplesPerChunkPixel = 1
	}
	across := (l.width + l.chunkW - 1) / l.chunkW
	down := (l.height + l.chunkH - 1) / l.chunkH
	if len(l.offsets) < across*down {
		return nil, fmt.Errorf("%w: expected %d chunks, found %d", ErrUnsupported, across*down, len(l.offsets))
	}

	bytesPerSample := l.bps / 8
	rowBytes := l.chunkW * samplesPerChunkPixel * bytesPerSample
	for ci := 0; ci < across*down; ci++ {
		off, cnt := int(l.offsets[ci]), int(l.counts[ci])
		if off < 0 || off+cnt > len(d.buf) {
			return nil, fmt.Errorf("%w: chunk %d out of range", ErrUnsupported, ci)
		}
		chunk, err := decompress(d.buf[off:off+cnt], l.compression)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", ci, err)
		}

		row0 := (ci / across) * l.chunkH
		col0 := (ci % across) * l.chunkW
		rows := l.chunkH
		if !l.tiled && row0+rows > l.height {
			rows = l.height - row0
		}
		if len(chunk) < rows*rowBytes {
			// Short final strips are allowed; only complete rows are used.
			rows = len(chunk) / rowBytes
		}

		for r := 0; r < rows; r++ {
			line := chunk[r*rowBytes : (r+1)*rowBytes]
			var order binary.ByteOrder = d.order
			switch l.predictor {
			case 1:
			case 2:
				undoHorizontal(line, bytesPerSample, samplesPerChunkPixel, d.order)
			case 3:
				line = undoFloatingPoint(line, bytesPerSample, samplesPerChunkPixel)
				order = binary.BigEndian
			default:
				return nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, l.predictor)
			}

			gr := row0 + r
			if gr >= l.height {
				break
			}
			for c := 0; c < l.chunkW; c++ {
				gc := col0 + c
				if gc >= l.width {
					break
				}
				p := (c * samplesPerChunkPixel) * bytesPerSample
				v, err := sampleValue(line[p:p+bytesPerSample], l.bps, l.format, order)
				if err != nil {
					return nil, err
				}
				g.Data[gr*l.width+gc] = v
			}
		}
	}
	return g, nil
}

func (d *decoder) georeference(g *Grid) error {
	if m := d.floats(tagModelTransform); len(m) >= 16 {
		if m[1] != 0 || m[4] != 0 {
			return fmt.Errorf("%w: rotated model transformation", ErrUnsupported)
		}
		g.Transform = GeoTransform{OriginX: m[3], OriginY: m[7], PixelWidth: m[0], PixelHeight: m[5]}
	} else {
		scale := d.floats(tagModelPixelScale)
		tie := d.floats(tagModelTiepoint)
		if len(scale) >= 2 && len(tie) >= 6 {
			g.Transform = GeoTransform{
				OriginX:     tie[3] - tie[0]*scale[0],
				OriginY:     tie[4] + tie[1]*scale[1],
				PixelWidth:  scale[0],
				PixelHeight: -scale[1],
			}
		} else {
			g.Transform = GeoTransform{PixelWidth: 1, PixelHeight: -1, OriginY: float64(g.Rows)}
		}
	}

	keys := d.geoKeys()
	if keys[keyRasterType] == rasterPixelIsPoint {
		g.Transform.OriginX -= g.Transform.PixelWidth / 2
		g.Transform.OriginY -= g.Transform.PixelHeight / 2
	}
	switch {
	case keys[keyModelType] == modelTypeProjected && keys[keyProjectedType] != 0 && keys[keyProjectedType] != userDefined:
		g.EPSG = keys[keyProjectedType]
	case keys[keyGeographicType] != 0 && keys[keyGeographicType] != userDefined:
		g.EPSG = keys[keyGeographicType]
	case keys[keyProjectedType] != 0 && keys[keyProjectedType] != userDefined:
		g.EPSG = keys[keyProjectedType]
	}
	return nil
}

// geoKeys returns inline SHORT geokeys by id.
func (d *decoder) geoKeys() map[int]int {
	out := make(map[int]int)
	dir := d.uints(tagGeoKeyDirectory)
	if len(dir) < 4 {
		return out
	}
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		k := dir[4+i*4:]
		if k[1] == 0 {
			out[int(k[0])] = int(k[3])
		}
	}
	return out
}

func decompress(b []byte, compression int) ([]byte, error) {
	switch compression {
	case compressionNone:
		return b, nil
	case compressionLZW:
		r := lzw.NewReader(bytes.NewReader(b), lzw.MSB, 8)
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil && len(out) == 0 {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		return out, nil
	case compressionDeflate, compressionAdobeZip:
		r, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case compressionPackBits:
		return unpackBits(b)
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, compression)
	}
}

func unpackBits(b []byte) ([]byte, error) {
	var out []byte
	for i := 0; i < len(b); {
		n := int(int8(b[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(b) {
				return nil, fmt.Errorf("packbits: literal run past end")
			}
			out = append(out, b[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(b) {
				return nil, fmt.Errorf("packbits: repeat run past end")
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, b[i])
			}
			i++
		}
	}
	return out, nil
}

// undoHorizontal reverses TIFF predictor 2 in place.
func undoHorizontal(line []byte, size, spp int, order binary.ByteOrder) {
	stride := size * spp
	for p := stride; p+size <= len(line); p += size {
		q := p - stride
		switch size {
		case 1:
			line[p] += line[q]
		case 2:
			order.PutUint16(line[p:], order.Uint16(line[p:])+order.Uint16(line[q:]))
		case 4:
			order.PutUint32(line[p:], order.Uint32(line[p:])+order.Uint32(line[q:]))
		case 8:
			order.PutUint64(line[p:], order.Uint64(line[p:])+order.Uint64(line[q:]))
		}
	}
}

// undoFloatingPoint reverses TIFF predictor 3 and returns the samples as
// big-endian bytes.
func undoFloatingPoint(line []byte, size, spp int) []byte {
	for i := spp; i < len(line); i++ {
		line[i] += line[i-spp]
	}
	n := len(line) / size
	out := make([]byte, len(line))
	for s := 0; s < n; s++ {
		for b := 0; b < size; b++ {
			out[s*size+b] = line[b*n+s]
		}
	}
	return out
}

func sampleValue(b []byte, bps, format int, order binary.ByteOrder) (float64, error) {
	switch format {
	case 1, 4: // unsigned, undefined
		switch bps {
		case 8:
			return float64(b[0]), nil
		case 16:
			return float64(order.Uint16(b)), nil
		case 32:
			return float64(order.Uint32(b)), nil
		case 64:
			return float64(order.Uint64(b)), nil
		}
	case 2:
		switch bps {
		case 8:
			return float64(int8(b[0])), nil
		case 16:
			return float64(int16(order.Uint16(b))), nil
		case 32:
			return float64(int32(order.Uint32(b))), nil
		case 64:
			return float64(int64(order.Uint64(b))), nil
		}
	case 3:
		switch bps {
		case 32:
			return float64(math.Float32frombits(order.Uint32(b))), nil
		case 64:
			return math.Float64frombits(order.Uint64(b)), nil
		}
	}
	return 0, fmt.Errorf("%w: sample format %d with %d bits", ErrUnsupported, format, bps)
}
