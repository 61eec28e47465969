package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testIndex() *Index {
	ix := NewIndex()
	ix.Add(1000, "file:///roa-1000.csv")
	ix.Add(2000, "file:///roa-2000.csv")
	ix.Add(3000, "file:///roa-3000.csv", "file:///roa-3000-b.csv")
	ix.SetBounds(1000, 4000)
	return ix
}

func TestIndexAdd(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, 3, ix.Len())
	assert.Equal(t, []uint32{1000, 2000, 3000}, ix.Timestamps())
	assert.Equal(t, []string{"file:///roa-3000.csv", "file:///roa-3000-b.csv"}, ix.URLs(3000))

	// Same URL twice is not duplicated.
	ix.Add(1000, "file:///roa-1000.csv", "file:///roa-1000-b.csv")
	assert.Equal(t, []string{"file:///roa-1000.csv", "file:///roa-1000-b.csv"}, ix.URLs(1000))
	assert.Equal(t, 3, ix.Len())
}

func TestIndexNext(t *testing.T) {
	ix := testIndex()
	assert.Equal(t, uint32(2000), ix.Next(1000))
	assert.Equal(t, uint32(2000), ix.Next(1500))
	assert.Equal(t, uint32(3000), ix.Next(2000))

	// End of the historical iteration.
	assert.Equal(t, uint32(0), ix.Next(3000))
}

// A snapshot stamped with the maximum timestamp must still terminate
// the iteration instead of wrapping around to the first snapshot.
func TestIndexNextMaxTimestamp(t *testing.T) {
	ix := NewIndex()
	ix.Add(100, "file:///roa-100.csv")
	ix.Add(4294967295, "file:///roa-last.csv")

	assert.Equal(t, uint32(4294967295), ix.Next(100))
	assert.Equal(t, uint32(0), ix.Next(4294967295))

	visited := make([]uint32, 0)
	for ts := uint32(100); ts != 0; ts = ix.Next(ts) {
		visited = append(visited, ts)
	}
	assert.Equal(t, []uint32{100, 4294967295}, visited)
}

func TestIndexResolve(t *testing.T) {
	ix := testIndex()

	tests := []struct {
		name    string
		ts      uint32
		current uint32
		next    uint32
		gap     bool
	}{
		{"Exactly on first snapshot", 1000, 1000, 2000, false},
		{"Between snapshots", 1500, 1000, 2000, false},
		{"On last snapshot", 3000, 3000, 0, false},
		{"Past last snapshot within coverage", 3500, 3000, 0, false},
		{"Before all data", 500, 0, 1000, true},
	}

	for _, test := range tests {
		res, err := ix.Resolve(test.ts, 0)
		assert.Nil(t, err, test.name)
		assert.Equal(t, test.current, res.Current, test.name)
		assert.Equal(t, test.next, res.Next, test.name)
		assert.Equal(t, test.gap, res.Gap, test.name)
		if !res.Gap {
			assert.True(t, res.Current <= test.ts, test.name)
			if res.Next != 0 {
				assert.True(t, test.ts < res.Next, test.name)
			}
		}
	}
}

func TestIndexResolveStaleness(t *testing.T) {
	ix := testIndex()

	// 3500 is 500s past the 3000 snapshot.
	res, err := ix.Resolve(3500, 400)
	assert.Nil(t, err)
	assert.True(t, res.Gap)
	assert.Equal(t, uint32(0), res.Current)
	assert.Nil(t, res.URLs)

	res, err = ix.Resolve(3500, 600)
	assert.Nil(t, err)
	assert.False(t, res.Gap)
	assert.Equal(t, uint32(3000), res.Current)
}

func TestIndexResolveErrors(t *testing.T) {
	ix := testIndex()
	_, err := ix.Resolve(4001, 0)
	assert.Equal(t, ErrOutOfRange, err)

	empty := NewIndex()
	_, err = empty.Resolve(1000, 0)
	assert.Equal(t, ErrEmpty, err)
}

func TestIndexMerge(t *testing.T) {
	ix := testIndex()
	ix.Merge(&Window{
		Start:  500,
		MaxEnd: 5000,
		Snapshots: map[uint32][]string{
			500:  {"file:///roa-500.csv"},
			4000: {"file:///roa-4000.csv"},
		},
	})

	start, maxEnd := ix.Bounds()
	assert.Equal(t, uint32(500), start)
	assert.Equal(t, uint32(5000), maxEnd)
	assert.Equal(t, []uint32{500, 1000, 2000, 3000, 4000}, ix.Timestamps())
}
