package flatgeobuf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
)

// Column describes one property column.
type Column struct {
	Name     string
	Type     ColumnType
	Title    string
	Nullable bool
}

// Header is the decoded file header.
type Header struct {
	Name          string
	Envelope      []float64 // minX, minY, maxX, maxY when present
	GeometryType  GeometryType
	HasZ          bool
	HasM          bool
	Columns       []Column
	FeaturesCount uint64
	IndexNodeSize uint16
	CRSCode       int32
	Title         string
	Description   string

	// Size is the byte length of the size-prefixed header table.
	Size int64
}

// Bound returns the envelope as an orb.Bound, or false when absent.
func (h *Header) Bound() (orb.Bound, bool) {
	if len(h.Envelope) < 4 {
		return orb.Bound{}, false
	}
	return orb.Bound{
		Min: orb.Point{h.Envelope[0], h.Envelope[1]},
		Max: orb.Point{h.Envelope[2], h.Envelope[3]},
	}, true
}

// HasIndex reports whether a packed R-tree follows the header.
func (h *Header) HasIndex() bool {
	return h.IndexNodeSize > 0 && h.FeaturesCount > 0
}

// IndexSize is the byte length of the packed R-tree.
func (h *Header) IndexSize() int64 {
	if !h.HasIndex() {
		return 0
	}
	bounds := levelBounds(h.FeaturesCount, h.IndexNodeSize)
	return int64(bounds[0][1]) * nodeItemLen
}

// LogValue implements slog.LogValuer.
func (h *Header) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", h.Name),
		slog.String("geometry", h.GeometryType.String()),
		slog.Uint64("features", h.FeaturesCount),
		slog.Bool("indexed", h.HasIndex()),
		slog.Int("columns", len(h.Columns)),
	)
}

// featuresStart is the absolute offset of the first feature.
func (h *Header) featuresStart() int64 {
	return magicSize + h.Size + h.IndexSize()
}

func checkMagic(buf []byte) error {
	if len(buf) < magicSize {
		return fmt.Errorf("%w: %d bytes", ErrBadMagic, len(buf))
	}
	// The last byte is the patch version and may vary.
	if !bytes.Equal(buf[:3], magic[:3]) || !bytes.Equal(buf[4:7], magic[4:7]) {
		return ErrBadMagic
	}
	if buf[3] != magic[3] {
		return fmt.Errorf("%w: unsupported major version %d", ErrBadMagic, buf[3])
	}
	return nil
}

// headerSize returns the size-prefixed header length read from the bytes
// following the magic.
func headerSize(buf []byte) (int64, error) {
	if len(buf) < magicSize+sizePrefixLen {
		return 0, fmt.Errorf("%w: short header prefix", ErrInvalidData)
	}
	n := binary.LittleEndian.Uint32(buf[magicSize:])
	return int64(n) + sizePrefixLen, nil
}

// decodeHeader parses the flatbuffer header table (without size prefix).
func decodeHeader(buf []byte) (h *Header, err error) {
	defer guard(&err, "header")

	if err := checkRoot(buf); err != nil {
		return nil, err
	}
	fh := flattypes.GetRootAsHeader(buf, 0)

	h = &Header{
		Name:          string(fh.Name()),
		GeometryType:  fh.GeometryType(),
		HasZ:          fh.HasZ(),
		HasM:          fh.HasM(),
		Columns:       decodeColumns(fh.ColumnsLength(), fh.Columns),
		FeaturesCount: fh.FeaturesCount(),
		IndexNodeSize: fh.IndexNodeSize(),
		Title:         string(fh.Title()),
		Description:   string(fh.Description()),
		Size:          int64(len(buf)) + sizePrefixLen,
	}
	if n := fh.EnvelopeLength(); n > 0 {
		h.Envelope = make([]float64, n)
		for i := range h.Envelope {
			h.Envelope[i] = fh.Envelope(i)
		}
	}

	var crs flattypes.Crs
	if fh.Crs(&crs) != nil {
		h.CRSCode = crs.Code()
	}

	if h.IndexNodeSize == 1 {
		return nil, fmt.Errorf("%w: index node size 1", ErrInvalidData)
	}
	return h, nil
}

// decodeColumns reads n column tables through at, which is the Columns
// accessor of either a header or a feature.
func decodeColumns(n int, at func(*flattypes.Column, int) bool) []Column {
	if n == 0 {
		return nil
	}
	cols := make([]Column, 0, n)
	var ct flattypes.Column
	for i := 0; i < n; i++ {
		if !at(&ct, i) {
			continue
		}
		cols = append(cols, Column{
			Name:     string(ct.Name()),
			Type:     ct.Type(),
			Title:    string(ct.Title()),
			Nullable: ct.Nullable(),
		})
	}
	return cols
}
