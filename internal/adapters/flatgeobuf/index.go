package flatgeobuf

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

// node is one packed R-tree entry. For leaves offset is the feature's byte
// offset from the start of the feature section; for inner nodes it is the
// index of the first child node.
type node struct {
	bound  orb.Bound
	offset uint64
}

func decodeNode(buf []byte, i uint64) node {
	b := buf[i*nodeItemLen:]
	f := func(at int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(b[at:]))
	}
	return node{
		bound: orb.Bound{
			Min: orb.Point{f(0), f(8)},
			Max: orb.Point{f(16), f(24)},
		},
		offset: binary.LittleEndian.Uint64(b[32:]),
	}
}

// levelBounds returns [start, end) node indices per level, leaves first.
// The root is node 0 and the leaves occupy the tail of the node array.
// Every tree has at least one level above the leaves, so a single item
// still gets its own root node.
func levelBounds(numItems uint64, nodeSize uint16) [][2]uint64 {
	if numItems == 0 {
		return nil
	}
	ns := uint64(nodeSize)
	if ns < 2 {
		ns = 2
	}

	n := numItems
	numNodes := n
	levelNumNodes := []uint64{n}
	for {
		n = (n + ns - 1) / ns
		numNodes += n
		levelNumNodes = append(levelNumNodes, n)
		if n == 1 {
			break
		}
	}

	bounds := make([][2]uint64, len(levelNumNodes))
	n = numNodes
	for i, size := range levelNumNodes {
		bounds[i] = [2]uint64{n - size, n}
		n -= size
	}
	return bounds
}

// featureRef locates one feature. length is -1 when the feature is the last
// in the file and its size must be read from its prefix.
type featureRef struct {
	offset uint64
	length int64
}

type nodeRange struct {
	start, end uint64
}

// search walks the index level by level from the root, reading the child
// groups of every intersecting node. Groups closer than gapNodes are fetched
// in one read. Hits come back in file order.
func (r *Reader) search(ctx context.Context, h *Header, box domain.QueryBox) ([]featureRef, error) {
	bounds := levelBounds(h.FeaturesCount, h.IndexNodeSize)
	numNodes := bounds[0][1]
	leafStart := bounds[0][0]
	indexStart := int64(magicSize) + h.Size
	nodeSize := uint64(h.IndexNodeSize)
	gapNodes := uint64(r.opts.MergeGap / nodeItemLen)

	var hits []featureRef
	pending := []uint64{0}

	for level := len(bounds) - 1; level >= 0 && len(pending) > 0; level-- {
		levelEnd := bounds[level][1]
		ranges := groupNodes(pending, nodeSize, levelEnd, gapNodes)
		pending = nil

		for _, rg := range ranges {
			isLeaf := rg.start >= leafStart
			readEnd := rg.end
			if isLeaf && readEnd < numNodes {
				readEnd++ // next leaf bounds the last hit's length
			}

			buf, err := r.read(ctx, "index", indexStart+int64(rg.start)*nodeItemLen, int64(readEnd-rg.start)*nodeItemLen)
			if err != nil {
				return nil, err
			}
			if uint64(len(buf)) < (readEnd-rg.start)*nodeItemLen {
				return nil, fmt.Errorf("%w: index truncated at node %d", ErrInvalidData, rg.start)
			}

			for pos := rg.start; pos < rg.end; pos++ {
				nd := decodeNode(buf, pos-rg.start)
				if !box.Intersects(nd.bound) {
					continue
				}
				if !isLeaf {
					pending = append(pending, nd.offset)
					continue
				}

				ref := featureRef{offset: nd.offset, length: -1}
				if pos+1 < numNodes {
					next := decodeNode(buf, pos+1-rg.start)
					if next.offset < nd.offset {
						return nil, fmt.Errorf("%w: leaf offsets out of order at node %d", ErrInvalidData, pos)
					}
					ref.length = int64(next.offset - nd.offset)
				}
				hits = append(hits, ref)
			}
		}
	}

	return hits, nil
}

// groupNodes turns first-child indices into sorted, merged node ranges.
// Nodes pulled in by merging belong to parents that did not intersect the
// query, and a child never intersects when its parent does not, so they are
// filtered out naturally.
func groupNodes(firsts []uint64, nodeSize, levelEnd, gapNodes uint64) []nodeRange {
	sort.Slice(firsts, func(i, j int) bool { return firsts[i] < firsts[j] })

	var out []nodeRange
	for _, s := range firsts {
		e := s + nodeSize
		if e > levelEnd {
			e = levelEnd
		}
		if n := len(out); n > 0 && s <= out[n-1].end+gapNodes {
			if e > out[n-1].end {
				out[n-1].end = e
			}
			continue
		}
		out = append(out, nodeRange{start: s, end: e})
	}
	return out
}
