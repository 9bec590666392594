package geo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfig        = 284
	tagTileWidth           = 322
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtSByte    = 6
	dtSShort   = 8
	dtSLong    = 9
	dtFloat    = 11
	dtDouble   = 12
)

const (
	keyGeographicType = 2048
	keyProjectedCS    = 3072
)

var (
	errMalformed   = errors.New("geo: malformed tiff")
	errUnsupported = errors.New("geo: unsupported tiff layout")
)

var typeSize = map[uint16]uint32{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtSShort: 2, dtSLong: 4, dtFloat: 4, dtDouble: 8,
}

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

// readIFD returns the entries of the first image file directory.
func readIFD(data []byte) (binary.ByteOrder, map[uint16]ifdEntry, error) {
	if len(data) < 8 {
		return nil, nil, errMalformed
	}
	var order binary.ByteOrder
	switch string(data[:4]) {
	case "II*\x00":
		order = binary.LittleEndian
	case "MM\x00*":
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: bad header", errMalformed)
	}
	off := order.Uint32(data[4:8])
	if uint64(off)+2 > uint64(len(data)) {
		return nil, nil, fmt.Errorf("%w: ifd offset", errMalformed)
	}
	n := uint32(order.Uint16(data[off : off+2]))
	if uint64(off)+2+uint64(n)*12 > uint64(len(data)) {
		return nil, nil, fmt.Errorf("%w: ifd entries", errMalformed)
	}
	entries := make(map[uint16]ifdEntry, n)
	for i := uint32(0); i < n; i++ {
		e := data[off+2+i*12 : off+2+(i+1)*12]
		tag := order.Uint16(e[0:2])
		typ := order.Uint16(e[2:4])
		count := order.Uint32(e[4:8])
		size, ok := typeSize[typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			p := uint64(order.Uint32(e[8:12]))
			if p+total > uint64(len(data)) {
				return nil, nil, fmt.Errorf("%w: tag %d value out of range", errMalformed, tag)
			}
			raw = data[p : p+total]
		}
		entries[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return order, entries, nil
}

func (e ifdEntry) uints(order binary.ByteOrder) []uint64 {
	out := make([]uint64, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case dtByte, dtSByte:
			out = append(out, uint64(e.raw[i]))
		case dtShort, dtSShort:
			out = append(out, uint64(order.Uint16(e.raw[i*2:])))
		case dtLong, dtSLong:
			out = append(out, uint64(order.Uint32(e.raw[i*4:])))
		}
	}
	return out
}

// floats decodes a numeric entry. Text and unknown types are malformed
// where a number is expected.
func (e ifdEntry) floats(order binary.ByteOrder) ([]float64, error) {
	out := make([]float64, e.count)
	switch e.typ {
	case dtDouble:
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(e.raw[i*8:]))
		}
	case dtFloat:
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(e.raw[i*4:])))
		}
	case dtRational:
		for i := range out {
			num, den := order.Uint32(e.raw[i*8:]), order.Uint32(e.raw[i*8+4:])
			if den == 0 {
				return nil, fmt.Errorf("%w: zero denominator", errMalformed)
			}
			out[i] = float64(num) / float64(den)
		}
	case dtByte, dtSByte, dtShort, dtSShort, dtLong, dtSLong:
		for i, u := range e.uints(order) {
			out[i] = float64(u)
		}
	default:
		return nil, fmt.Errorf("%w: type %d is not numeric", errMalformed, e.typ)
	}
	return out, nil
}

func (e ifdEntry) ascii() string {
	s := e.raw
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return string(s)
}
