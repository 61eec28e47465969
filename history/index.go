// Time index over ROA snapshot availability.

package history

import (
	"errors"
	"math"

	"github.com/google/btree"
)

var (
	ErrEmpty      = errors.New("time index is empty")
	ErrOutOfRange = errors.New("timestamp is beyond the indexed coverage")
)

// Window is one broker listing: the snapshot timestamps available for
// a scope together with the coverage bounds the broker reported.
type Window struct {
	Start     uint32
	MaxEnd    uint32
	Snapshots map[uint32][]string
}

// Resolution brackets a query timestamp. When Gap is set there is no
// valid snapshot for the queried instant: Current is zero and Next is
// the first snapshot after the query, so iteration can skip the hole.
type Resolution struct {
	Current uint32
	Next    uint32
	Gap     bool
	URLs    []string
}

type snapshot struct {
	ts   uint32
	urls []string
}

func (s *snapshot) Less(than btree.Item) bool {
	return s.ts < than.(*snapshot).ts
}

// Index is an ordered map from snapshot timestamp to source URLs.
type Index struct {
	tree    *btree.BTree
	start   uint32
	maxEnd  uint32
	bounded bool
}

func NewIndex() *Index {
	return &Index{
		tree: btree.New(2),
	}
}

// Add indexes a snapshot. URLs for an already-known timestamp are
// appended (several collectors may report the same snapshot instant).
func (ix *Index) Add(ts uint32, urls ...string) {
	item := ix.tree.Get(&snapshot{ts: ts})
	if item == nil {
		ix.tree.ReplaceOrInsert(&snapshot{ts: ts, urls: append([]string{}, urls...)})
		return
	}
	existing := item.(*snapshot)
	for _, url := range urls {
		var dup bool
		for _, known := range existing.urls {
			if known == url {
				dup = true
				break
			}
		}
		if !dup {
			existing.urls = append(existing.urls, url)
		}
	}
}

func (ix *Index) SetBounds(start, maxEnd uint32) {
	ix.start = start
	ix.maxEnd = maxEnd
	ix.bounded = true
}

// Merge folds a broker window into the index, widening the bounds.
func (ix *Index) Merge(w *Window) {
	for ts, urls := range w.Snapshots {
		ix.Add(ts, urls...)
	}
	if !ix.bounded {
		ix.SetBounds(w.Start, w.MaxEnd)
		return
	}
	if w.Start < ix.start {
		ix.start = w.Start
	}
	if w.MaxEnd > ix.maxEnd {
		ix.maxEnd = w.MaxEnd
	}
}

func (ix *Index) Bounds() (start, maxEnd uint32) {
	return ix.start, ix.maxEnd
}

func (ix *Index) Len() int {
	return ix.tree.Len()
}

func (ix *Index) Timestamps() []uint32 {
	out := make([]uint32, 0, ix.tree.Len())
	ix.tree.Ascend(func(item btree.Item) bool {
		out = append(out, item.(*snapshot).ts)
		return true
	})
	return out
}

func (ix *Index) URLs(ts uint32) []string {
	item := ix.tree.Get(&snapshot{ts: ts})
	if item == nil {
		return nil
	}
	return item.(*snapshot).urls
}

// Next returns the smallest indexed timestamp strictly greater than
// ts, or 0 when ts is the last available snapshot.
func (ix *Index) Next(ts uint32) uint32 {
	if ts == math.MaxUint32 {
		return 0
	}
	var next uint32
	ix.tree.AscendGreaterOrEqual(&snapshot{ts: ts + 1}, func(item btree.Item) bool {
		next = item.(*snapshot).ts
		return false
	})
	return next
}

// Resolve brackets a query timestamp. staleness bounds how far a query
// may drift past its snapshot before the span counts as a gap; zero
// disables drift detection so only uncovered leading ranges gap out.
func (ix *Index) Resolve(ts uint32, staleness uint32) (*Resolution, error) {
	if ix.tree.Len() == 0 {
		return nil, ErrEmpty
	}
	if ix.bounded && ts > ix.maxEnd {
		return nil, ErrOutOfRange
	}

	var current *snapshot
	ix.tree.DescendLessOrEqual(&snapshot{ts: ts}, func(item btree.Item) bool {
		current = item.(*snapshot)
		return false
	})

	if current == nil || (staleness > 0 && ts-current.ts > staleness) {
		return &Resolution{
			Current: 0,
			Next:    ix.Next(ts),
			Gap:     true,
		}, nil
	}

	return &Resolution{
		Current: current.ts,
		Next:    ix.Next(current.ts),
		URLs:    current.urls,
	}, nil
}
