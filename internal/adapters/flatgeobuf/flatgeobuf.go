// Package flatgeobuf streams features out of a FlatGeobuf file using range
// reads, so only the header, the index nodes on the search path, and the
// matching features are transferred.
package flatgeobuf

import (
	"errors"
	"fmt"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	flatbuffers "github.com/google/flatbuffers/go"
)

// Errors returned by this package.
var (
	ErrBadMagic            = errors.New("flatgeobuf: not a flatgeobuf file")
	ErrInvalidData         = errors.New("flatgeobuf: invalid data")
	ErrUnsupportedGeometry = errors.New("flatgeobuf: unsupported geometry type")
	ErrRangeRequest        = errors.New("flatgeobuf: range request failed")
)

var magic = [8]byte{'f', 'g', 'b', 3, 'f', 'g', 'b', 0}

const (
	magicSize     = 8
	sizePrefixLen = 4
	nodeItemLen   = 40 // minX, minY, maxX, maxY float64 + offset uint64
)

// GeometryType and ColumnType are the format's own enums.
type (
	GeometryType = flattypes.GeometryType
	ColumnType   = flattypes.ColumnType
)

const (
	GeometryUnknown         = flattypes.GeometryTypeUnknown
	GeometryPoint           = flattypes.GeometryTypePoint
	GeometryLineString      = flattypes.GeometryTypeLineString
	GeometryPolygon         = flattypes.GeometryTypePolygon
	GeometryMultiPoint      = flattypes.GeometryTypeMultiPoint
	GeometryMultiLineString = flattypes.GeometryTypeMultiLineString
	GeometryMultiPolygon    = flattypes.GeometryTypeMultiPolygon
	GeometryCollection      = flattypes.GeometryTypeGeometryCollection
)

const (
	ColumnByte     = flattypes.ColumnTypeByte
	ColumnUByte    = flattypes.ColumnTypeUByte
	ColumnBool     = flattypes.ColumnTypeBool
	ColumnShort    = flattypes.ColumnTypeShort
	ColumnUShort   = flattypes.ColumnTypeUShort
	ColumnInt      = flattypes.ColumnTypeInt
	ColumnUInt     = flattypes.ColumnTypeUInt
	ColumnLong     = flattypes.ColumnTypeLong
	ColumnULong    = flattypes.ColumnTypeULong
	ColumnFloat    = flattypes.ColumnTypeFloat
	ColumnDouble   = flattypes.ColumnTypeDouble
	ColumnString   = flattypes.ColumnTypeString
	ColumnJSON     = flattypes.ColumnTypeJson
	ColumnDateTime = flattypes.ColumnTypeDateTime
	ColumnBinary   = flattypes.ColumnTypeBinary
)

// checkRoot verifies that buf can hold the root offset of a table and that
// the offset points inside buf.
func checkRoot(buf []byte) error {
	if len(buf) < flatbuffers.SizeUOffsetT {
		return fmt.Errorf("%w: table buffer of %d bytes", ErrInvalidData, len(buf))
	}
	if pos := flatbuffers.GetUOffsetT(buf); int(pos) >= len(buf) {
		return fmt.Errorf("%w: root offset %d beyond %d bytes", ErrInvalidData, pos, len(buf))
	}
	return nil
}

// guard converts a panic raised by the flatbuffers accessors on corrupt
// offsets into ErrInvalidData.
func guard(err *error, what string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: corrupt %s: %v", ErrInvalidData, what, r)
	}
}
