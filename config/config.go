// RPKI validation configuration: project/collector specification,
// time-indexed snapshot coverage and the broker request rendering.

package config

import (
	"github.com/bgpsec/roafetch/history"
)

// Scope is one project/collector pair. In unified mode all scopes
// share a single merged time index addressed by UnifiedScope.
type Scope struct {
	Project   string
	Collector string
}

var UnifiedScope = Scope{}

func (s Scope) String() string {
	if s == UnifiedScope {
		return "unified"
	}
	return s.Project + ":" + s.Collector
}

// Config is the single handle passed across the public contract. One
// instance per validation session, driven by a single goroutine;
// separate instances are independent.
type Config struct {
	Input *Input
	Time  *Time

	BrokerURL string

	// MaxStaleness is the policy threshold (seconds) past a snapshot
	// after which a query counts as a coverage gap. Zero disables
	// drift-based gap detection.
	MaxStaleness uint32

	indexes   map[Scope]*history.Index
	destroyed bool
}

// Create parses the projects/collectors specification and the time
// intervals into a configuration. A failed Create yields no usable
// configuration.
func Create(projectsCollectors, timeIntervals string, unified bool, mode Mode, brokerURL, sshOptions string) (*Config, error) {
	return CreateWithLimits(projectsCollectors, timeIntervals, unified, mode, brokerURL, sshOptions, DefaultLimits())
}

func CreateWithLimits(projectsCollectors, timeIntervals string, unified bool, mode Mode, brokerURL, sshOptions string, limits Limits) (*Config, error) {
	if len(sshOptions) > limits.MaxInputLength {
		return nil, NewError(ERROR_CAPACITY, "ssh options", "ssh options exceed %d characters", limits.MaxInputLength)
	}

	projects, collectors, err := parseProjectsCollectors(projectsCollectors, limits)
	if err != nil {
		return nil, err
	}

	intervals, err := parseIntervals(timeIntervals, limits)
	if err != nil {
		return nil, err
	}

	return &Config{
		Input: &Input{
			Mode:       mode,
			Unified:    unified,
			SSHOptions: sshOptions,
			Projects:   projects,
			Collectors: collectors,
			Intervals:  intervals,
			limits:     limits,
		},
		Time:      &Time{},
		BrokerURL: brokerURL,
		indexes:   make(map[Scope]*history.Index),
	}, nil
}

// Usable reports whether the configuration can still be operated on.
func (c *Config) Usable() error {
	if c == nil {
		return NewError(ERROR_MISUSE, "", "nil configuration")
	}
	if c.destroyed {
		return NewError(ERROR_MISUSE, "", "configuration already destroyed")
	}
	return nil
}

// Destroy releases all owned state. Destroying twice is a detectable
// misuse, not undefined behavior.
func (c *Config) Destroy() error {
	if err := c.Usable(); err != nil {
		return err
	}
	c.indexes = nil
	c.Input = nil
	c.Time = nil
	c.destroyed = true
	return nil
}

// Scopes lists the project/collector pairs of this configuration.
func (c *Config) Scopes() []Scope {
	if c.Usable() != nil {
		return nil
	}
	if c.Input.Unified {
		return []Scope{UnifiedScope}
	}
	scopes := make([]Scope, 0, len(c.Input.Projects))
	for i, project := range c.Input.Projects {
		scopes = append(scopes, Scope{Project: project, Collector: c.Input.Collectors[i]})
	}
	return scopes
}

// PopulateScope feeds a broker listing into the scope's time index.
// In unified mode every listing is merged into one index regardless
// of the scope argument.
func (c *Config) PopulateScope(scope Scope, w *history.Window) error {
	if err := c.Usable(); err != nil {
		return err
	}
	if c.Input.Unified {
		scope = UnifiedScope
	}
	ix, ok := c.indexes[scope]
	if !ok {
		ix = history.NewIndex()
		c.indexes[scope] = ix
	}
	ix.Merge(w)
	return nil
}

// Coverage reports the broker-announced bounds for a scope. When the
// broker did not announce a start, the first indexed snapshot is used.
func (c *Config) Coverage(scope Scope) (start, maxEnd uint32, err error) {
	ix, err := c.index(scope)
	if err != nil {
		return 0, 0, err
	}
	start, maxEnd = ix.Bounds()
	if start == 0 {
		if timestamps := ix.Timestamps(); len(timestamps) > 0 {
			start = timestamps[0]
		}
	}
	return start, maxEnd, nil
}

func (c *Config) index(scope Scope) (*history.Index, error) {
	if err := c.Usable(); err != nil {
		return nil, err
	}
	if c.Input.Unified {
		scope = UnifiedScope
	}
	ix, ok := c.indexes[scope]
	if !ok {
		return nil, NewError(ERROR_MISUSE, scope.String(), "scope has no populated time index")
	}
	return ix, nil
}
