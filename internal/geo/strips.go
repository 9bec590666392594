package geo

import (
	"encoding/binary"
	"fmt"
	"math"
)

// readStrips decodes band n (1-based) of an uncompressed, chunky, stripped
// raster directly from the IFD. It covers the signed integer and floating
// point sample formats the tiff package refuses.
func readStrips(data []byte, n int) ([][]float64, error) {
	order, tags, err := readIFD(data)
	if err != nil {
		return nil, err
	}
	value := func(tag uint16, def uint64) uint64 {
		if e, ok := tags[tag]; ok {
			if v := e.uints(order); len(v) > 0 {
				return v[0]
			}
		}
		return def
	}
	if c := value(tagCompression, 1); c != 1 {
		return nil, fmt.Errorf("%w: compression %d", errUnsupported, c)
	}
	if _, ok := tags[tagTileWidth]; ok {
		return nil, fmt.Errorf("%w: tiled layout", errUnsupported)
	}
	spp := int(value(tagSamplesPerPixel, 1))
	if spp > 1 && value(tagPlanarConfig, 1) != 1 {
		return nil, fmt.Errorf("%w: planar layout", errUnsupported)
	}
	width, height := int(value(tagImageWidth, 0)), int(value(tagImageLength, 0))
	format, bits := value(tagSampleFormat, 1), value(tagBitsPerSample, 8)
	decode, err := sampleDecoder(order, format, bits)
	if err != nil {
		return nil, err
	}
	size := int(bits / 8)

	offsets, counts := tags[tagStripOffsets].uints(order), tags[tagStripByteCounts].uints(order)
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, fmt.Errorf("%w: strip table", errMalformed)
	}
	var pixels []byte
	for i, off := range offsets {
		if off+counts[i] > uint64(len(data)) {
			return nil, fmt.Errorf("%w: strip %d out of range", errMalformed, i)
		}
		pixels = append(pixels, data[off:off+counts[i]]...)
	}
	if len(pixels) < width*height*spp*size {
		return nil, fmt.Errorf("%w: %d pixel bytes for %dx%d", errMalformed, len(pixels), width, height)
	}

	out := make([][]float64, height)
	for y := range out {
		row := make([]float64, width)
		for x := range row {
			i := ((y*width+x)*spp + n - 1) * size
			row[x] = decode(pixels[i : i+size])
		}
		out[y] = row
	}
	return out, nil
}

func sampleDecoder(order binary.ByteOrder, format, bits uint64) (func([]byte) float64, error) {
	switch {
	case format == 1 && bits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format == 1 && bits == 16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case format == 1 && bits == 32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	case format == 2 && bits == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == 2 && bits == 16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case format == 2 && bits == 32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case format == 3 && bits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case format == 3 && bits == 64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	}
	return nil, fmt.Errorf("%w: sample format %d with %d bits", errUnsupported, format, bits)
}
