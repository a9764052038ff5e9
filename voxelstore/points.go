package voxelstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Format is a point encoding.
type Format uint8

const (
	// FormatXYZ is three little-endian float32 coordinates.
	FormatXYZ Format = iota
	// FormatXYZI is FormatXYZ followed by a little-endian uint32 intensity.
	FormatXYZI
)

// Size returns the encoded size of one point.
func (f Format) Size() uint32 {
	switch f {
	case FormatXYZ:
		return 12
	case FormatXYZI:
		return 16
	}
	return 0
}

func (f Format) String() string {
	switch f {
	case FormatXYZ:
		return "xyz"
	case FormatXYZI:
		return "xyzi"
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// Point is a decoded point.
type Point struct {
	X, Y, Z   float32
	Intensity uint32
}

// Encode appends the encoding of points to dst.
func Encode(dst []byte, f Format, points []Point) []byte {
	for _, p := range points {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.X))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.Y))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(p.Z))
		if f == FormatXYZI {
			dst = binary.LittleEndian.AppendUint32(dst, p.Intensity)
		}
	}
	return dst
}

// Decode decodes whole points from b.
func Decode(f Format, b []byte) ([]Point, error) {
	size := int(f.Size())
	if size == 0 {
		return nil, errors.Errorf("unknown point format %d", f)
	}
	if len(b)%size != 0 {
		return nil, errors.Errorf("%d bytes is not a whole number of %s points", len(b), f)
	}
	points := make([]Point, len(b)/size)
	for i := range points {
		p := b[i*size:]
		points[i] = Point{
			X: math.Float32frombits(binary.LittleEndian.Uint32(p[0:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(p[4:])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(p[8:])),
		}
		if f == FormatXYZI {
			points[i].Intensity = binary.LittleEndian.Uint32(p[12:])
		}
	}
	return points, nil
}
