package config

import (
	"github.com/bgpsec/roafetch/history"
)

// Time is the per-resolution-call state, recomputed on every
// GetTimestamps call and kept only as the last-known result.
type Time struct {
	CurrentROATimestamp uint32
	NextROATimestamp    uint32

	Start  uint32
	MaxEnd uint32

	// CurrentGap is set when the queried instant is not covered by
	// any known snapshot.
	CurrentGap bool
}

// GetTimestamps brackets a query timestamp within the scope's known
// snapshots. A gap result is valid and non-fatal: it means "no data
// for this instant", distinct from a hard error. A timestamp beyond
// the broker-reported coverage end is an out-of-range error.
func (c *Config) GetTimestamps(scope Scope, timestamp uint32) (*history.Resolution, error) {
	ix, err := c.index(scope)
	if err != nil {
		return nil, err
	}

	res, err := ix.Resolve(timestamp, c.MaxStaleness)
	if err == history.ErrEmpty {
		return nil, NewError(ERROR_OUT_OF_RANGE, scope.String(), "no snapshots indexed for scope")
	}
	if err != nil {
		return nil, NewError(ERROR_OUT_OF_RANGE, scope.String(), "timestamp %d is beyond coverage", timestamp)
	}

	start, maxEnd := ix.Bounds()
	c.Time.CurrentROATimestamp = res.Current
	c.Time.NextROATimestamp = res.Next
	c.Time.Start = start
	c.Time.MaxEnd = maxEnd
	c.Time.CurrentGap = res.Gap

	return res, nil
}

// NextTimestamp returns the smallest indexed timestamp strictly after
// currentTs, or 0 at the end of the historical iteration.
func (c *Config) NextTimestamp(scope Scope, currentTs uint32) uint32 {
	ix, err := c.index(scope)
	if err != nil {
		return 0
	}
	return ix.Next(currentTs)
}
