package flatgeobuf

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb/geojson"
)

// decodeFeature parses one feature table (without size prefix).
func decodeFeature(buf []byte, h *Header) (f *geojson.Feature, err error) {
	defer guard(&err, "feature")

	if err := checkRoot(buf); err != nil {
		return nil, err
	}
	ff := flattypes.GetRootAsFeature(buf, 0)

	f = geojson.NewFeature(nil)
	var g flattypes.Geometry
	if ff.Geometry(&g) != nil {
		geom, err := decodeGeometry(&g, h.GeometryType)
		if err != nil {
			return nil, err
		}
		f.Geometry = geom
	}

	columns := h.Columns
	if own := decodeColumns(ff.ColumnsLength(), ff.Columns); len(own) > 0 {
		columns = own
	}
	props, err := decodeProperties(ff.PropertiesBytes(), columns)
	if err != nil {
		return nil, err
	}
	for k, v := range props {
		f.Properties[k] = v
	}
	return f, nil
}

// decodeProperties reads the property blob: a sequence of little-endian
// uint16 column index followed by the value encoded per column type.
func decodeProperties(b []byte, columns []Column) (map[string]interface{}, error) {
	props := make(map[string]interface{})
	pos := 0

	need := func(n int) error {
		if pos+n > len(b) {
			return fmt.Errorf("%w: property blob truncated at byte %d", ErrInvalidData, pos)
		}
		return nil
	}

	for pos < len(b) {
		if err := need(2); err != nil {
			return nil, err
		}
		idx := int(binary.LittleEndian.Uint16(b[pos:]))
		pos += 2
		if idx >= len(columns) {
			return nil, fmt.Errorf("%w: column index %d out of %d", ErrInvalidData, idx, len(columns))
		}
		col := columns[idx]

		var v interface{}
		switch col.Type {
		case ColumnByte:
			if err := need(1); err != nil {
				return nil, err
			}
			v = int8(b[pos])
			pos++
		case ColumnUByte:
			if err := need(1); err != nil {
				return nil, err
			}
			v = b[pos]
			pos++
		case ColumnBool:
			if err := need(1); err != nil {
				return nil, err
			}
			v = b[pos] != 0
			pos++
		case ColumnShort:
			if err := need(2); err != nil {
				return nil, err
			}
			v = int16(binary.LittleEndian.Uint16(b[pos:]))
			pos += 2
		case ColumnUShort:
			if err := need(2); err != nil {
				return nil, err
			}
			v = binary.LittleEndian.Uint16(b[pos:])
			pos += 2
		case ColumnInt:
			if err := need(4); err != nil {
				return nil, err
			}
			v = int32(binary.LittleEndian.Uint32(b[pos:]))
			pos += 4
		case ColumnUInt:
			if err := need(4); err != nil {
				return nil, err
			}
			v = binary.LittleEndian.Uint32(b[pos:])
			pos += 4
		case ColumnLong:
			if err := need(8); err != nil {
				return nil, err
			}
			v = int64(binary.LittleEndian.Uint64(b[pos:]))
			pos += 8
		case ColumnULong:
			if err := need(8); err != nil {
				return nil, err
			}
			v = binary.LittleEndian.Uint64(b[pos:])
			pos += 8
		case ColumnFloat:
			if err := need(4); err != nil {
				return nil, err
			}
			v = math.Float32frombits(binary.LittleEndian.Uint32(b[pos:]))
			pos += 4
		case ColumnDouble:
			if err := need(8); err != nil {
				return nil, err
			}
			v = math.Float64frombits(binary.LittleEndian.Uint64(b[pos:]))
			pos += 8
		case ColumnString, ColumnJSON, ColumnDateTime, ColumnBinary:
			if err := need(4); err != nil {
				return nil, err
			}
			n := int(binary.LittleEndian.Uint32(b[pos:]))
			pos += 4
			if err := need(n); err != nil {
				return nil, err
			}
			raw := b[pos : pos+n]
			pos += n

			switch col.Type {
			case ColumnBinary:
				v = append([]byte(nil), raw...)
			case ColumnJSON:
				var decoded interface{}
				if err := json.Unmarshal(raw, &decoded); err != nil {
					v = string(raw)
				} else {
					v = decoded
				}
			default:
				v = string(raw)
			}
		default:
			return nil, fmt.Errorf("%w: column %q has unknown type %d", ErrInvalidData, col.Name, col.Type)
		}

		props[col.Name] = v
	}
	return props, nil
}
