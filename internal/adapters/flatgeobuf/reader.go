package flatgeobuf

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/fgbview/internal/core/domain"
	"github.com/samirrijal/fgbview/internal/core/ports"
	"github.com/samirrijal/fgbview/internal/pkg/metrics"
)

var tracer = otel.Tracer("github.com/samirrijal/fgbview/internal/adapters/flatgeobuf")

// Options tunes range access.
type Options struct {
	// MergeGap joins reads separated by fewer bytes than this.
	MergeGap int
	// HeaderPrefetch is the size of the first read; larger headers cost a
	// second request.
	HeaderPrefetch int
	// MaxBatch caps the bytes fetched by one feature read.
	MaxBatch int
}

func (o *Options) defaults() {
	if o.HeaderPrefetch < magicSize+sizePrefixLen {
		o.HeaderPrefetch = 8 * 1024
	}
	if o.MergeGap < 0 {
		o.MergeGap = 0
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = 1 << 20
	}
}

// Reader answers bounding-box queries against one FlatGeobuf dataset.
// It implements ports.FeatureSource. Nothing is cached between streams.
type Reader struct {
	ranger Ranger
	opts   Options
}

var _ ports.FeatureSource = (*Reader)(nil)

// NewReader creates a Reader over ranger.
func NewReader(ranger Ranger, opts Options) *Reader {
	opts.defaults()
	return &Reader{ranger: ranger, opts: opts}
}

// Close releases the underlying ranger.
func (r *Reader) Close() error {
	return r.ranger.Close()
}

func (r *Reader) read(ctx context.Context, section string, off, n int64) ([]byte, error) {
	metrics.RangeRequests.WithLabelValues(section).Inc()
	b, err := r.ranger.ReadRange(ctx, off, n)
	metrics.RangeBytes.Add(float64(len(b)))
	return b, err
}

// Header reads and decodes the file header.
func (r *Reader) Header(ctx context.Context) (*Header, error) {
	buf, err := r.read(ctx, "header", 0, int64(r.opts.HeaderPrefetch))
	if err != nil {
		return nil, err
	}
	if err := checkMagic(buf); err != nil {
		return nil, err
	}

	size, err := headerSize(buf)
	if err != nil {
		return nil, err
	}
	total := magicSize + size
	if have := int64(len(buf)); have < total {
		more, err := r.read(ctx, "header", have, total-have)
		if err != nil {
			return nil, err
		}
		buf = append(buf, more...)
		if int64(len(buf)) < total {
			return nil, fmt.Errorf("%w: header truncated (%d of %d bytes)", ErrInvalidData, len(buf), total)
		}
	}

	return decodeHeader(buf[magicSize+sizePrefixLen : total])
}

// Stream opens a lazy sequence of the features whose bounds intersect box.
// Indexed files are searched through the packed R-tree; unindexed files
// are scanned front to back.
func (r *Reader) Stream(ctx context.Context, box domain.QueryBox) (ports.FeatureIterator, error) {
	spanCtx, span := tracer.Start(ctx, "flatgeobuf.stream")
	defer span.End()

	h, err := r.Header(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("features_count", int64(h.FeaturesCount)),
		attribute.Int("index_node_size", int(h.IndexNodeSize)),
	)

	if env, ok := h.Bound(); ok && !box.Intersects(env) {
		return &sliceIterator{}, nil
	}

	if !h.HasIndex() {
		return &scanIterator{ctx: ctx, r: r, h: h, box: box, pos: h.featuresStart()}, nil
	}

	refs, err := r.search(spanCtx, h, box)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search index: %w", err)
	}
	span.SetAttributes(attribute.Int("hits", len(refs)))

	return &indexIterator{ctx: ctx, r: r, h: h, base: h.featuresStart(), refs: refs}, nil
}

// decodeSized decodes the size-prefixed feature at buf[at:].
func decodeSized(buf []byte, at int64, h *Header) (*geojson.Feature, int64, error) {
	if at < 0 || at+sizePrefixLen > int64(len(buf)) {
		return nil, 0, fmt.Errorf("%w: feature prefix truncated", ErrInvalidData)
	}
	size := int64(binary.LittleEndian.Uint32(buf[at:]))
	end := at + sizePrefixLen + size
	if end > int64(len(buf)) {
		return nil, 0, fmt.Errorf("%w: feature truncated (%d of %d bytes)", ErrInvalidData, int64(len(buf))-at, sizePrefixLen+size)
	}
	f, err := decodeFeature(buf[at+sizePrefixLen:end], h)
	if err != nil {
		return nil, 0, err
	}
	return f, sizePrefixLen + size, nil
}

// indexIterator fetches index hits in merged batches and decodes one
// feature per Next.
type indexIterator struct {
	ctx  context.Context
	r    *Reader
	h    *Header
	base int64
	refs []featureRef

	next       int
	batchEnd   int
	batch      []byte
	batchStart int64

	cur    *geojson.Feature
	err    error
	closed bool
}

func (it *indexIterator) Next() bool {
	if it.err != nil || it.closed || it.next >= len(it.refs) {
		return false
	}
	if it.next >= it.batchEnd {
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
	}

	ref := it.refs[it.next]
	f, _, err := decodeSized(it.batch, int64(ref.offset)-it.batchStart, it.h)
	if err != nil {
		it.err = fmt.Errorf("feature at offset %d: %w", ref.offset, err)
		return false
	}
	it.next++
	it.cur = f
	return true
}

// fetch reads the next run of hits that are within MergeGap of each other,
// up to MaxBatch bytes.
func (it *indexIterator) fetch() error {
	gap := int64(it.r.opts.MergeGap)
	maxBatch := int64(it.r.opts.MaxBatch)

	start := int64(it.refs[it.next].offset)
	end := start
	i := it.next
	for ; i < len(it.refs); i++ {
		ref := &it.refs[i]
		off := int64(ref.offset)
		if i > it.next && (off-end > gap || end-start >= maxBatch) {
			break
		}
		if ref.length < 0 {
			n, err := it.sizeAt(off)
			if err != nil {
				return err
			}
			ref.length = n
		}
		end = off + ref.length
	}

	buf, err := it.r.read(it.ctx, "features", it.base+start, end-start)
	if err != nil {
		return err
	}
	it.batch = buf
	it.batchStart = start
	it.batchEnd = i
	return nil
}

// sizeAt reads the length prefix of the feature at off.
func (it *indexIterator) sizeAt(off int64) (int64, error) {
	b, err := it.r.read(it.ctx, "features", it.base+off, sizePrefixLen)
	if err != nil {
		return 0, err
	}
	if len(b) < sizePrefixLen {
		return 0, fmt.Errorf("%w: feature prefix truncated at offset %d", ErrInvalidData, off)
	}
	return sizePrefixLen + int64(binary.LittleEndian.Uint32(b)), nil
}

func (it *indexIterator) Feature() *geojson.Feature { return it.cur }
func (it *indexIterator) Err() error                { return it.err }

func (it *indexIterator) Close() error {
	it.closed = true
	it.batch = nil
	return nil
}

// scanIterator reads an unindexed file sequentially in MaxBatch windows
// and filters every feature by its bound.
type scanIterator struct {
	ctx context.Context
	r   *Reader
	h   *Header
	box domain.QueryBox

	pos      int64
	buf      []byte
	bufStart int64
	seen     uint64

	cur    *geojson.Feature
	err    error
	done   bool
	closed bool
}

func (it *scanIterator) Next() bool {
	for {
		if it.err != nil || it.done || it.closed {
			return false
		}
		if it.h.FeaturesCount > 0 && it.seen >= it.h.FeaturesCount {
			it.done = true
			return false
		}

		prefix, err := it.window(sizePrefixLen)
		if err != nil {
			it.err = err
			return false
		}
		if len(prefix) == 0 {
			if it.h.FeaturesCount > 0 {
				it.err = fmt.Errorf("%w: file ended after %d of %d features", ErrInvalidData, it.seen, it.h.FeaturesCount)
			}
			it.done = true
			return false
		}
		if len(prefix) < sizePrefixLen {
			it.err = fmt.Errorf("%w: feature prefix truncated at %d", ErrInvalidData, it.pos)
			return false
		}

		size := sizePrefixLen + int64(binary.LittleEndian.Uint32(prefix))
		body, err := it.window(size)
		if err != nil {
			it.err = err
			return false
		}
		f, n, err := decodeSized(body, 0, it.h)
		if err != nil {
			it.err = fmt.Errorf("feature at %d: %w", it.pos, err)
			return false
		}
		it.pos += n
		it.seen++

		if f.Geometry == nil || !it.box.Intersects(f.Geometry.Bound()) {
			continue
		}
		it.cur = f
		return true
	}
}

// window returns up to n bytes starting at pos, refilling the buffer when
// they are not already held. Fewer than n bytes means end of file.
func (it *scanIterator) window(n int64) ([]byte, error) {
	rel := it.pos - it.bufStart
	if rel >= 0 && rel+n <= int64(len(it.buf)) {
		return it.buf[rel : rel+n], nil
	}

	want := int64(it.r.opts.MaxBatch)
	if n > want {
		want = n
	}
	b, err := it.r.read(it.ctx, "features", it.pos, want)
	if err != nil {
		return nil, err
	}
	it.buf = b
	it.bufStart = it.pos
	if int64(len(b)) < n {
		return b, nil
	}
	return b[:n], nil
}

func (it *scanIterator) Feature() *geojson.Feature { return it.cur }
func (it *scanIterator) Err() error                { return it.err }

func (it *scanIterator) Close() error {
	it.closed = true
	it.buf = nil
	return nil
}

// sliceIterator yields a fixed set of features.
type sliceIterator struct {
	features []*geojson.Feature
	i        int
}

func (it *sliceIterator) Next() bool {
	if it.i >= len(it.features) {
		return false
	}
	it.i++
	return true
}

func (it *sliceIterator) Feature() *geojson.Feature { return it.features[it.i-1] }
func (it *sliceIterator) Err() error                { return nil }
func (it *sliceIterator) Close() error              { return nil }
