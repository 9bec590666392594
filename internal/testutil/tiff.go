package testutil

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// TIFF field types.
const (
	TIFFASCII  = 2
	TIFFShort  = 3
	TIFFLong   = 4
	TIFFDouble = 12
)

// TIFFEntry is one IFD entry with its value already encoded little-endian.
type TIFFEntry struct {
	Tag, Type uint16
	Count     uint32
	Data      []byte
}

func TIFFShorts(vs ...uint16) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint16(b, v)
	}
	return b
}

func TIFFDoubles(vs ...float64) []byte {
	var b []byte
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

// EncodeTIFF lays out a little-endian single-strip TIFF. The StripOffsets
// entry (tag 273) is filled in with the position of pixels.
func EncodeTIFF(entries []TIFFEntry, pixels []byte) []byte {
	le := binary.LittleEndian
	entries = append([]TIFFEntry(nil), entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Tag < entries[j].Tag })

	cur := 8 + 2 + len(entries)*12 + 4
	offs := make([]int, len(entries))
	for i, e := range entries {
		if len(e.Data) > 4 {
			offs[i] = cur
			cur += len(e.Data)
		}
	}
	pixOff := cur
	buf := make([]byte, pixOff+len(pixels))
	copy(buf, "II*\x00")
	le.PutUint32(buf[4:], 8)
	le.PutUint16(buf[8:], uint16(len(entries)))
	for i, e := range entries {
		p := 10 + i*12
		data := e.Data
		if e.Tag == 273 {
			data = le.AppendUint32(nil, uint32(pixOff))
		}
		le.PutUint16(buf[p:], e.Tag)
		le.PutUint16(buf[p+2:], e.Type)
		le.PutUint32(buf[p+4:], e.Count)
		if len(data) > 4 {
			le.PutUint32(buf[p+8:], uint32(offs[i]))
			copy(buf[offs[i]:], data)
		} else {
			copy(buf[p+8:], data)
		}
	}
	copy(buf[pixOff:], pixels)
	return buf
}

// WriteGeoTIFF writes a 4x3 uint8 raster whose pixel (row, col) holds
// row*10+col. With georef it is anchored at lon 136.9 lat 37.4 with 0.001
// degree pixels in EPSG:4326 and nodata 0.
func WriteGeoTIFF(t testing.TB, georef bool) string {
	t.Helper()
	const w, h = 4, 3
	pixels := make([]byte, 0, w*h)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			pixels = append(pixels, byte(row*10+col))
		}
	}
	entries := []TIFFEntry{
		{256, TIFFShort, 1, TIFFShorts(w)},
		{257, TIFFShort, 1, TIFFShorts(h)},
		{258, TIFFShort, 1, TIFFShorts(8)},
		{259, TIFFShort, 1, TIFFShorts(1)},
		{262, TIFFShort, 1, TIFFShorts(1)},
		{273, TIFFLong, 1, nil},
		{277, TIFFShort, 1, TIFFShorts(1)},
		{278, TIFFShort, 1, TIFFShorts(h)},
		{279, TIFFLong, 1, binary.LittleEndian.AppendUint32(nil, w*h)},
		{339, TIFFShort, 1, TIFFShorts(1)},
	}
	if georef {
		entries = append(entries,
			TIFFEntry{33550, TIFFDouble, 3, TIFFDoubles(0.001, 0.001, 0)},
			TIFFEntry{33922, TIFFDouble, 6, TIFFDoubles(0, 0, 0, 136.9, 37.4, 0)},
			TIFFEntry{34735, TIFFShort, 8, TIFFShorts(1, 1, 0, 1, 2048, 0, 1, 4326)},
			TIFFEntry{42113, TIFFASCII, 2, []byte("0\x00")},
		)
	}
	path := filepath.Join(t.TempDir(), "raster.tif")
	require.NoError(t, os.WriteFile(path, EncodeTIFF(entries, pixels), 0o644))
	return path
}
