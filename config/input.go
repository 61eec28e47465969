package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Collector wildcard sentinel. Expansion is the broker's job, the
// sentinel is forwarded as-is.
const WildcardCollector = "*"

const (
	DefaultMaxRPKICount   = 128
	DefaultMaxInputLength = 256
	DefaultMaxTimeWindows = 1024
)

// Limits bound caller-controlled input. Exceeding a limit is a hard
// parse failure, never a silent truncation.
type Limits struct {
	MaxRPKICount   int
	MaxInputLength int
	MaxTimeWindows int
}

func DefaultLimits() Limits {
	return Limits{
		MaxRPKICount:   DefaultMaxRPKICount,
		MaxInputLength: DefaultMaxInputLength,
		MaxTimeWindows: DefaultMaxTimeWindows,
	}
}

// Input holds the normalized request parameters. Projects and
// Collectors are parallel: Projects[i] pairs with Collectors[i], a
// project with several collectors is flattened into repeated entries.
type Input struct {
	Mode    Mode
	Unified bool

	SSHOptions string

	Projects   []string
	Collectors []string

	// Consecutive pairs form closed windows, count is always even.
	Intervals []uint32

	limits Limits
}

type Mode int

const (
	ModeLive Mode = iota
	ModeHistorical
)

var ModeToName = map[Mode]string{
	ModeLive:       "live",
	ModeHistorical: "historical",
}

func parseProjectsCollectors(spec string, limits Limits) (projects, collectors []string, err error) {
	projects = make([]string, 0)
	collectors = make([]string, 0)

	for _, clause := range strings.Split(spec, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		sep := strings.Index(clause, ":")
		if sep < 0 {
			return nil, nil, NewError(ERROR_MALFORMED_SPEC, clause, "missing ':' delimiter in clause")
		}

		project := strings.TrimSpace(clause[:sep])
		if project == "" {
			return nil, nil, NewError(ERROR_MALFORMED_SPEC, clause, "empty project identifier")
		}
		if len(project) > limits.MaxInputLength {
			return nil, nil, NewError(ERROR_CAPACITY, project, "project identifier exceeds %d characters", limits.MaxInputLength)
		}

		set := strings.TrimSpace(clause[sep+1:])
		if len(set) < 2 || set[0] != '(' || set[len(set)-1] != ')' {
			return nil, nil, NewError(ERROR_MALFORMED_SPEC, clause, "collector set must be parenthesized")
		}
		set = strings.TrimSpace(set[1 : len(set)-1])
		if set == "" {
			return nil, nil, NewError(ERROR_MALFORMED_SPEC, clause, "empty collector set")
		}

		// The documented notation "(*|CC1,CC2)" reads "all collectors
		// or this subset"; when a subset is spelled out it wins, since
		// the broker expands wildcards anyway.
		if rest := strings.TrimPrefix(set, WildcardCollector+"|"); rest != set {
			set = strings.TrimSpace(rest)
			if set == "" {
				return nil, nil, NewError(ERROR_MALFORMED_SPEC, clause, "empty collector subset after wildcard")
			}
		}

		if set == WildcardCollector {
			projects = append(projects, project)
			collectors = append(collectors, WildcardCollector)
		} else {
			for _, collector := range strings.Split(set, ",") {
				collector = strings.TrimSpace(collector)
				if collector == "" {
					return nil, nil, NewError(ERROR_MALFORMED_SPEC, clause, "empty collector identifier")
				}
				if strings.ContainsAny(collector, "*|()") {
					return nil, nil, NewError(ERROR_MALFORMED_SPEC, collector, "invalid character in collector identifier")
				}
				if len(collector) > limits.MaxInputLength {
					return nil, nil, NewError(ERROR_CAPACITY, collector, "collector identifier exceeds %d characters", limits.MaxInputLength)
				}
				projects = append(projects, project)
				collectors = append(collectors, collector)
			}
		}

		if len(projects) > limits.MaxRPKICount {
			return nil, nil, NewError(ERROR_CAPACITY, project, "more than %d project/collector pairs", limits.MaxRPKICount)
		}
	}

	if len(projects) == 0 {
		return nil, nil, NewError(ERROR_MALFORMED_SPEC, spec, "no project/collector clause found")
	}

	return projects, collectors, nil
}

func parseIntervals(spec string, limits Limits) ([]uint32, error) {
	intervals := make([]uint32, 0)
	if strings.TrimSpace(spec) == "" {
		return intervals, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ts, err := strconv.ParseUint(entry, 10, 32)
		if err != nil {
			return nil, NewError(ERROR_MALFORMED_SPEC, entry, "non-numeric interval timestamp")
		}
		intervals = append(intervals, uint32(ts))
		if len(intervals) > limits.MaxTimeWindows {
			return nil, NewError(ERROR_CAPACITY, spec, "more than %d interval timestamps", limits.MaxTimeWindows)
		}
	}

	if len(intervals)%2 != 0 {
		return nil, NewError(ERROR_MALFORMED_SPEC, spec, "odd number of interval timestamps (%d)", len(intervals))
	}
	for i := 0; i < len(intervals); i += 2 {
		if intervals[i] > intervals[i+1] {
			return nil, NewError(ERROR_INVALID_INTERVAL, spec, "window start %d after end %d", intervals[i], intervals[i+1])
		}
	}

	return intervals, nil
}

// BrokerProjects renders the project list for the broker request,
// regenerated from the normalized state on every call.
func (in *Input) BrokerProjects() string {
	return strings.Join(in.Projects, ",")
}

func (in *Input) BrokerCollectors() string {
	return strings.Join(in.Collectors, ",")
}

func (in *Input) BrokerIntervals() string {
	parts := make([]string, 0, len(in.Intervals))
	for i := 0; i < len(in.Intervals); i += 2 {
		parts = append(parts, fmt.Sprintf("%d,%d", in.Intervals[i], in.Intervals[i+1]))
	}
	return strings.Join(parts, ",")
}

// RenderSpec reconstructs the project/collector specification from the
// normalized lists. Parsing the result yields the same pairs back.
func (in *Input) RenderSpec() string {
	clauses := make([]string, 0, len(in.Projects))
	byProject := make(map[string][]string)
	order := make([]string, 0)
	for i, project := range in.Projects {
		if _, ok := byProject[project]; !ok {
			order = append(order, project)
		}
		byProject[project] = append(byProject[project], in.Collectors[i])
	}
	for _, project := range order {
		clauses = append(clauses, fmt.Sprintf("%s:(%s)", project, strings.Join(byProject[project], ",")))
	}
	return strings.Join(clauses, ";")
}
