package geo

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rag-portal/internal/testutil"
)

func TestOpen_MetaData(t *testing.T) {
	r, err := Open(testutil.WriteGeoTIFF(t, true))
	require.NoError(t, err)

	m := r.Meta()
	require.Equal(t, "GTiff", m.Driver)
	require.Equal(t, "uint8", m.DType)
	require.Equal(t, 4, m.Width)
	require.Equal(t, 3, m.Height)
	require.Equal(t, 1, m.Count)
	require.Equal(t, "EPSG:4326", m.CRS)
	require.NotNil(t, m.NoData)
	require.Equal(t, 0.0, *m.NoData)
	require.InDelta(t, 0.001, m.Transform.A, 1e-12)
	require.InDelta(t, -0.001, m.Transform.E, 1e-12)
	require.InDelta(t, 136.9, m.Transform.C, 1e-12)
	require.InDelta(t, 37.4, m.Transform.F, 1e-12)
}

func TestCoordinates(t *testing.T) {
	r, err := Open(testutil.WriteGeoTIFF(t, true))
	require.NoError(t, err)

	lat, lon, err := r.CenterCoordinates()
	require.NoError(t, err)
	require.InDelta(t, 37.3985, lat, 1e-9)
	require.InDelta(t, 136.9025, lon, 1e-9)

	lat, lon, err = r.PixelCoordinates(0, 0)
	require.NoError(t, err)
	require.InDelta(t, 37.3995, lat, 1e-9)
	require.InDelta(t, 136.9005, lon, 1e-9)
}

func TestReadBandAndValueAt(t *testing.T) {
	r, err := Open(testutil.WriteGeoTIFF(t, true))
	require.NoError(t, err)

	band, err := r.ReadBand(1)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0, 1, 2, 3}, {10, 11, 12, 13}, {20, 21, 22, 23}}, band)

	v, err := r.ValueAt(136.9025, 37.3985)
	require.NoError(t, err)
	require.Equal(t, 12.0, v)

	_, err = r.ValueAt(137.5, 37.0)
	require.ErrorIs(t, err, ErrOutOfBounds)

	_, err = r.ReadBand(2)
	require.ErrorIs(t, err, ErrBand)
}

func TestCropBBox(t *testing.T) {
	r, err := Open(testutil.WriteGeoTIFF(t, true))
	require.NoError(t, err)

	win, err := r.CropBBox(136.9005, 37.3975, 136.9025, 37.3995)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{0, 1, 2}, {10, 11, 12}, {20, 21, 22}}, win)

	win, err = r.CropBBox(136.9035, 37.3985, 136.9035, 37.3985)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{13}}, win)

	_, err = r.CropBBox(136.8, 37.3975, 136.9025, 37.3995)
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestWithoutGeoreference(t *testing.T) {
	r, err := Open(testutil.WriteGeoTIFF(t, false))
	require.NoError(t, err)
	require.Empty(t, r.Meta().CRS)
	require.Nil(t, r.Meta().NoData)

	_, _, err = r.CenterCoordinates()
	require.ErrorIs(t, err, ErrNoTransform)
	_, err = r.ValueAt(0, 0)
	require.ErrorIs(t, err, ErrNoTransform)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.tif"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "junk.tif")
	require.NoError(t, os.WriteFile(path, []byte("not a tiff at all"), 0o644))
	_, err = Open(path)
	require.ErrorIs(t, err, errMalformed)
}

func TestAffine(t *testing.T) {
	tr, err := transform(binary.LittleEndian, map[uint16]ifdEntry{
		tagModelTransformation: {typ: dtDouble, count: 16, raw: testutil.TIFFDoubles(
			2, 0, 0, 500000,
			0, -2, 0, 4000000,
			0, 0, 0, 0,
			0, 0, 0, 1,
		)},
	})
	require.NoError(t, err)
	require.Equal(t, Affine{A: 2, C: 500000, E: -2, F: 4000000}, tr)

	x, y := tr.XY(3, 5)
	require.Equal(t, 500011.0, x)
	require.Equal(t, 3999993.0, y)
	row, col := tr.Index(x, y)
	require.Equal(t, 3, row)
	require.Equal(t, 5, col)

	require.Equal(t, "EPSG:6677", crs([]uint64{1, 1, 0, 2, keyGeographicType, 0, 1, 4326, keyProjectedCS, 0, 1, 6677}))
	require.Equal(t, "", crs([]uint64{1, 1, 0, 1, keyProjectedCS, 34737, 1, 0}))
}

func TestTransform_RejectsMalformedTags(t *testing.T) {
	le := binary.LittleEndian
	scale := ifdEntry{typ: dtDouble, count: 3, raw: testutil.TIFFDoubles(1, 1, 0)}
	for name, tags := range map[string]map[uint16]ifdEntry{
		"ascii tiepoint": {
			tagModelTiepoint:   {typ: dtASCII, count: 6, raw: []byte("abcde\x00")},
			tagModelPixelScale: scale,
		},
		"short tiepoint": {
			tagModelTiepoint:   {typ: dtDouble, count: 3, raw: testutil.TIFFDoubles(0, 0, 0)},
			tagModelPixelScale: scale,
		},
		"short scale": {
			tagModelTiepoint:   {typ: dtDouble, count: 6, raw: testutil.TIFFDoubles(0, 0, 0, 1, 2, 0)},
			tagModelPixelScale: {typ: dtDouble, count: 1, raw: testutil.TIFFDoubles(1)},
		},
		"ascii transformation": {
			tagModelTransformation: {typ: dtASCII, count: 16, raw: make([]byte, 16)},
		},
		"short transformation": {
			tagModelTransformation: {typ: dtDouble, count: 4, raw: testutil.TIFFDoubles(1, 0, 0, 1)},
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, err := transform(le, tags)
				require.ErrorIs(t, err, errMalformed)
			})
		})
	}

	rational := le.AppendUint32(le.AppendUint32(nil, 1), 2)
	rational = le.AppendUint32(le.AppendUint32(rational, 1), 4)
	tr, err := transform(le, map[uint16]ifdEntry{
		tagModelTiepoint:   {typ: dtDouble, count: 6, raw: testutil.TIFFDoubles(0, 0, 0, 10, 20, 0)},
		tagModelPixelScale: {typ: dtRational, count: 2, raw: rational},
	})
	require.NoError(t, err)
	require.Equal(t, Affine{A: 0.5, C: 10, E: -0.25, F: 20}, tr)
}

func TestOpen_ASCIITiepointIsMalformed(t *testing.T) {
	entries := append(rasterEntries(2, 1, 8, 1),
		testutil.TIFFEntry{Tag: 33550, Type: testutil.TIFFDouble, Count: 3, Data: testutil.TIFFDoubles(1, 1, 0)},
		testutil.TIFFEntry{Tag: 33922, Type: testutil.TIFFASCII, Count: 6, Data: []byte("tiept\x00")},
	)
	_, err := Open(writeRaster(t, entries, []byte{1, 2}))
	require.ErrorIs(t, err, errMalformed)
}

func TestReadBand_Int16(t *testing.T) {
	var pixels []byte
	for _, v := range []int16{-5, 300, math.MinInt16, 7} {
		pixels = binary.LittleEndian.AppendUint16(pixels, uint16(v))
	}
	r, err := Open(writeRaster(t, rasterEntries(2, 2, 16, 2), pixels))
	require.NoError(t, err)
	require.Equal(t, "int16", r.Meta().DType)

	band, err := r.ReadBand(1)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{-5, 300}, {math.MinInt16, 7}}, band)
}

func TestReadBand_Float32(t *testing.T) {
	var pixels []byte
	for _, v := range []float32{1.5, -2.25, 0, 1e6} {
		pixels = binary.LittleEndian.AppendUint32(pixels, math.Float32bits(v))
	}
	entries := append(rasterEntries(2, 2, 32, 3),
		testutil.TIFFEntry{Tag: 33550, Type: testutil.TIFFDouble, Count: 3, Data: testutil.TIFFDoubles(1, 1, 0)},
		testutil.TIFFEntry{Tag: 33922, Type: testutil.TIFFDouble, Count: 6, Data: testutil.TIFFDoubles(0, 0, 0, 100, 50, 0)},
	)
	r, err := Open(writeRaster(t, entries, pixels))
	require.NoError(t, err)
	require.Equal(t, "float32", r.Meta().DType)

	band, err := r.ReadBand(1)
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1.5, -2.25}, {0, 1e6}}, band)

	v, err := r.ValueAt(100.5, 48.5)
	require.NoError(t, err)
	require.Equal(t, 0.0, v)
}

// rasterEntries describes a single-band, single-strip, uncompressed w x h
// raster with the given sample width and format.
func rasterEntries(w, h, bits, format uint16) []testutil.TIFFEntry {
	size := uint32(w) * uint32(h) * uint32(bits/8)
	return []testutil.TIFFEntry{
		{Tag: 256, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(w)},
		{Tag: 257, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(h)},
		{Tag: 258, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(bits)},
		{Tag: 259, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(1)},
		{Tag: 262, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(1)},
		{Tag: 273, Type: testutil.TIFFLong, Count: 1},
		{Tag: 277, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(1)},
		{Tag: 278, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(h)},
		{Tag: 279, Type: testutil.TIFFLong, Count: 1, Data: binary.LittleEndian.AppendUint32(nil, size)},
		{Tag: 339, Type: testutil.TIFFShort, Count: 1, Data: testutil.TIFFShorts(format)},
	}
}

func writeRaster(t *testing.T, entries []testutil.TIFFEntry, pixels []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "band.tif")
	require.NoError(t, os.WriteFile(path, testutil.EncodeTIFF(entries, pixels), 0o644))
	return path
}
