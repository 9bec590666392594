// Package geo reads single-image GeoTIFF rasters: their georeferencing tags
// and band values addressed by pixel or by coordinate.
package geo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

var (
	ErrOutOfBounds = errors.New("geo: position outside raster")
	ErrNoTransform = errors.New("geo: raster has no georeferencing")
	ErrBand        = errors.New("geo: band not available")
)

// Affine maps pixel (col, row) to world (x, y) as
// x = A*col + B*row + C, y = D*col + E*row + F.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// XY returns the world coordinates of the center of pixel (row, col).
func (t Affine) XY(row, col int) (float64, float64) {
	c, r := float64(col)+0.5, float64(row)+0.5
	return t.A*c + t.B*r + t.C, t.D*c + t.E*r + t.F
}

// Index returns the pixel (row, col) containing world point (x, y).
func (t Affine) Index(x, y float64) (int, int) {
	det := t.A*t.E - t.B*t.D
	dx, dy := x-t.C, y-t.F
	col := (t.E*dx - t.B*dy) / det
	row := (-t.D*dx + t.A*dy) / det
	return int(math.Floor(row)), int(math.Floor(col))
}

func (t Affine) IsZero() bool {
	return t == Affine{}
}

type MetaData struct {
	Driver    string   `json:"driver"`
	DType     string   `json:"dtype"`
	NoData    *float64 `json:"nodata"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Count     int      `json:"count"`
	CRS       string   `json:"crs"`
	Transform Affine   `json:"transform"`
}

type Raster struct {
	path string
	data []byte
	meta MetaData
}

// Open reads the geo tags of the GeoTIFF at path. Pixel data is decoded on
// demand.
func Open(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open %s: %w", path, err)
	}
	meta, err := readMeta(data)
	if err != nil {
		return nil, fmt.Errorf("geo: %s: %w", path, err)
	}
	return &Raster{path: path, data: data, meta: meta}, nil
}

func readMeta(data []byte) (MetaData, error) {
	order, tags, err := readIFD(data)
	if err != nil {
		return MetaData{}, err
	}
	meta := MetaData{Driver: "GTiff", Count: 1}
	if e, ok := tags[tagImageWidth]; ok {
		meta.Width = int(first(e.uints(order)))
	}
	if e, ok := tags[tagImageLength]; ok {
		meta.Height = int(first(e.uints(order)))
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return MetaData{}, fmt.Errorf("%w: missing dimensions", errMalformed)
	}
	if e, ok := tags[tagSamplesPerPixel]; ok {
		meta.Count = int(first(e.uints(order)))
	}
	bits := uint64(8)
	if e, ok := tags[tagBitsPerSample]; ok {
		bits = first(e.uints(order))
	}
	format := uint64(1)
	if e, ok := tags[tagSampleFormat]; ok {
		format = first(e.uints(order))
	}
	meta.DType = dtype(format, bits)

	if e, ok := tags[tagGDALNoData]; ok {
		if v, err := strconv.ParseFloat(strings.TrimSpace(e.ascii()), 64); err == nil {
			meta.NoData = &v
		}
	}
	if e, ok := tags[tagGeoKeyDirectory]; ok {
		meta.CRS = crs(e.uints(order))
	}
	if meta.Transform, err = transform(order, tags); err != nil {
		return MetaData{}, err
	}
	return meta, nil
}

func first(v []uint64) uint64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

func dtype(format, bits uint64) string {
	switch format {
	case 2:
		return "int" + strconv.FormatUint(bits, 10)
	case 3:
		return "float" + strconv.FormatUint(bits, 10)
	}
	return "uint" + strconv.FormatUint(bits, 10)
}

// crs reads the EPSG code out of a GeoKeyDirectory.
func crs(dir []uint64) string {
	if len(dir) < 4 {
		return ""
	}
	var geographic uint64
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		k := dir[4+i*4:]
		id, loc, val := k[0], k[1], k[3]
		if loc != 0 || val == 0 || val == 32767 {
			continue
		}
		switch id {
		case keyProjectedCS:
			return "EPSG:" + strconv.FormatUint(val, 10)
		case keyGeographicType:
			geographic = val
		}
	}
	if geographic != 0 {
		return "EPSG:" + strconv.FormatUint(geographic, 10)
	}
	return ""
}

func transform(order binary.ByteOrder, tags map[uint16]ifdEntry) (Affine, error) {
	if e, ok := tags[tagModelTransformation]; ok {
		m, err := e.floats(order)
		if err != nil {
			return Affine{}, fmt.Errorf("model transformation: %w", err)
		}
		if len(m) < 16 {
			return Affine{}, fmt.Errorf("%w: model transformation has %d values", errMalformed, len(m))
		}
		return Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}, nil
	}
	tp, okT := tags[tagModelTiepoint]
	sc, okS := tags[tagModelPixelScale]
	if !okT || !okS {
		return Affine{}, nil
	}
	p, err := tp.floats(order)
	if err != nil {
		return Affine{}, fmt.Errorf("model tiepoint: %w", err)
	}
	s, err := sc.floats(order)
	if err != nil {
		return Affine{}, fmt.Errorf("model pixel scale: %w", err)
	}
	if len(p) < 6 || len(s) < 2 {
		return Affine{}, fmt.Errorf("%w: %d tiepoint and %d scale values", errMalformed, len(p), len(s))
	}
	return Affine{
		A: s[0], C: p[3] - p[0]*s[0],
		E: -s[1], F: p[4] + p[1]*s[1],
	}, nil
}

func (r *Raster) Meta() MetaData {
	return r.meta
}

// CenterCoordinates returns (lat, lon) of the center pixel.
func (r *Raster) CenterCoordinates() (float64, float64, error) {
	return r.PixelCoordinates(r.meta.Width/2, r.meta.Height/2)
}

// PixelCoordinates returns (lat, lon) of pixel column px, row py.
func (r *Raster) PixelCoordinates(px, py int) (float64, float64, error) {
	if r.meta.Transform.IsZero() {
		return 0, 0, ErrNoTransform
	}
	lon, lat := r.meta.Transform.XY(py, px)
	return lat, lon, nil
}

// ReadBand decodes band n (1-based) into rows of values.
func (r *Raster) ReadBand(n int) ([][]float64, error) {
	if n < 1 || n > r.meta.Count {
		return nil, fmt.Errorf("%w: %d of %d", ErrBand, n, r.meta.Count)
	}
	if strings.HasPrefix(r.meta.DType, "int") || strings.HasPrefix(r.meta.DType, "float") {
		out, err := readStrips(r.data, n)
		if err != nil {
			return nil, fmt.Errorf("geo: decode %s: %w", r.path, err)
		}
		return out, nil
	}
	img, err := tiff.Decode(bytes.NewReader(r.data))
	if err != nil {
		return nil, fmt.Errorf("geo: decode %s: %w", r.path, err)
	}
	b := img.Bounds()
	out := make([][]float64, b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := make([]float64, b.Dx())
		for x := b.Min.X; x < b.Max.X; x++ {
			v, err := sample(img, x, y, n)
			if err != nil {
				return nil, err
			}
			row[x-b.Min.X] = v
		}
		out[y-b.Min.Y] = row
	}
	return out, nil
}

func sample(img image.Image, x, y, band int) (float64, error) {
	switch m := img.(type) {
	case *image.Gray:
		return float64(m.GrayAt(x, y).Y), nil
	case *image.Gray16:
		return float64(m.Gray16At(x, y).Y), nil
	case *image.Paletted:
		return float64(m.ColorIndexAt(x, y)), nil
	}
	c := img.At(x, y)
	rr, gg, bb, aa := c.RGBA()
	switch band {
	case 1:
		return float64(rr >> 8), nil
	case 2:
		return float64(gg >> 8), nil
	case 3:
		return float64(bb >> 8), nil
	case 4:
		return float64(aa >> 8), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrBand, band)
}

func (r *Raster) index(lon, lat float64) (int, int, error) {
	if r.meta.Transform.IsZero() {
		return 0, 0, ErrNoTransform
	}
	row, col := r.meta.Transform.Index(lon, lat)
	if row < 0 || col < 0 || row >= r.meta.Height || col >= r.meta.Width {
		return 0, 0, fmt.Errorf("%w: (%v, %v) is pixel row %d col %d", ErrOutOfBounds, lon, lat, row, col)
	}
	return row, col, nil
}

// ValueAt returns the band 1 value of the pixel containing (lon, lat).
func (r *Raster) ValueAt(lon, lat float64) (float64, error) {
	row, col, err := r.index(lon, lat)
	if err != nil {
		return 0, err
	}
	band, err := r.ReadBand(1)
	if err != nil {
		return 0, err
	}
	return band[row][col], nil
}

// CropBBox returns the band 1 window between the south-west corner
// (minLon, minLat) and the north-east corner (maxLon, maxLat), inclusive.
func (r *Raster) CropBBox(minLon, minLat, maxLon, maxLat float64) ([][]float64, error) {
	py, px, err := r.index(minLon, minLat)
	if err != nil {
		return nil, err
	}
	py2, px2, err := r.index(maxLon, maxLat)
	if err != nil {
		return nil, err
	}
	if py2 > py || px > px2 {
		return nil, fmt.Errorf("geo: empty window rows %d..%d cols %d..%d", py2, py, px, px2)
	}
	band, err := r.ReadBand(1)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, 0, py-py2+1)
	for row := py2; row <= py; row++ {
		out = append(out, append([]float64(nil), band[row][px:px2+1]...))
	}
	return out, nil
}
