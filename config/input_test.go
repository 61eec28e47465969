package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProjectsCollectors(t *testing.T) {
	tests := []struct {
		name       string
		spec       string
		projects   []string
		collectors []string
	}{
		{
			name:       "Explicit subsets",
			spec:       "PJ1:(*|CC1,CC2);PJ2:(*|CC1)",
			projects:   []string{"PJ1", "PJ1", "PJ2"},
			collectors: []string{"CC1", "CC2", "CC1"},
		},
		{
			name:       "Wildcard",
			spec:       "FU-Berlin:(*)",
			projects:   []string{"FU-Berlin"},
			collectors: []string{"*"},
		},
		{
			name:       "Cosmetic variation",
			spec:       " PJ1 : ( CC1 , CC2 ) ; ",
			projects:   []string{"PJ1", "PJ1"},
			collectors: []string{"CC1", "CC2"},
		},
		{
			name:       "Mixed wildcard and subset",
			spec:       "RIPE:(*);FU-Berlin:(CC01-AMSIX)",
			projects:   []string{"RIPE", "FU-Berlin"},
			collectors: []string{"*", "CC01-AMSIX"},
		},
	}

	for _, test := range tests {
		projects, collectors, err := parseProjectsCollectors(test.spec, DefaultLimits())
		assert.Nil(t, err, test.name)
		assert.Equal(t, test.projects, projects, test.name)
		assert.Equal(t, test.collectors, collectors, test.name)
	}
}

func TestParseProjectsCollectorsMalformed(t *testing.T) {
	tests := []struct {
		name string
		spec string
		kind int
	}{
		{"Missing colon", "PJ1(CC1)", ERROR_MALFORMED_SPEC},
		{"Empty project", ":(CC1)", ERROR_MALFORMED_SPEC},
		{"Missing parentheses", "PJ1:CC1,CC2", ERROR_MALFORMED_SPEC},
		{"Unbalanced parentheses", "PJ1:(CC1,CC2", ERROR_MALFORMED_SPEC},
		{"Empty collector set", "PJ1:()", ERROR_MALFORMED_SPEC},
		{"Empty collector", "PJ1:(CC1,)", ERROR_MALFORMED_SPEC},
		{"Wildcard inside list", "PJ1:(CC1,*)", ERROR_MALFORMED_SPEC},
		{"Empty spec", "", ERROR_MALFORMED_SPEC},
		{"Only separators", ";;;", ERROR_MALFORMED_SPEC},
	}

	for _, test := range tests {
		_, _, err := parseProjectsCollectors(test.spec, DefaultLimits())
		assert.NotNil(t, err, test.name)
		assert.Equal(t, test.kind, Kind(err), test.name)
	}
}

func TestParseProjectsCollectorsCapacity(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxRPKICount = 2

	_, _, err := parseProjectsCollectors("PJ1:(CC1,CC2,CC3)", limits)
	assert.Equal(t, ERROR_CAPACITY, Kind(err))

	limits = DefaultLimits()
	limits.MaxInputLength = 4
	_, _, err = parseProjectsCollectors("LONG-PROJECT:(CC1)", limits)
	assert.Equal(t, ERROR_CAPACITY, Kind(err))

	_, _, err = parseProjectsCollectors("PJ1:(VERY-LONG-COLLECTOR)", limits)
	assert.Equal(t, ERROR_CAPACITY, Kind(err))
}

func TestParseIntervals(t *testing.T) {
	intervals, err := parseIntervals("100,200,300,400", DefaultLimits())
	assert.Nil(t, err)
	assert.Equal(t, []uint32{100, 200, 300, 400}, intervals)
	assert.Equal(t, 0, len(intervals)%2)

	intervals, err = parseIntervals("", DefaultLimits())
	assert.Nil(t, err)
	assert.Equal(t, 0, len(intervals))
}

func TestParseIntervalsRejected(t *testing.T) {
	tests := []struct {
		name string
		spec string
		kind int
	}{
		{"Odd count", "100,200,300", ERROR_MALFORMED_SPEC},
		{"Non-numeric", "100,abc", ERROR_MALFORMED_SPEC},
		{"Negative", "100,-200", ERROR_MALFORMED_SPEC},
		{"Start after end", "400,300", ERROR_INVALID_INTERVAL},
	}

	for _, test := range tests {
		_, err := parseIntervals(test.spec, DefaultLimits())
		assert.NotNil(t, err, test.name)
		assert.Equal(t, test.kind, Kind(err), test.name)
	}
}

func TestParseIntervalsCapacity(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxTimeWindows = 2

	_, err := parseIntervals("100,200,300,400", limits)
	assert.Equal(t, ERROR_CAPACITY, Kind(err))
}

// Re-serializing the normalized lists and re-parsing them must yield
// the same project/collector pairs.
func TestSpecRoundTrip(t *testing.T) {
	specs := []string{
		"PJ1:(*|CC1,CC2);PJ2:(*|CC1)",
		"RIPE:(*);FU-Berlin:(CC01-AMSIX,CC19-LINX)",
		" PJ1 : ( CC1 ) ",
	}

	for _, spec := range specs {
		projects, collectors, err := parseProjectsCollectors(spec, DefaultLimits())
		assert.Nil(t, err, spec)

		in := &Input{Projects: projects, Collectors: collectors}
		reprojects, recollectors, err := parseProjectsCollectors(in.RenderSpec(), DefaultLimits())
		assert.Nil(t, err, spec)
		assert.Equal(t, projects, reprojects, spec)
		assert.Equal(t, collectors, recollectors, spec)
	}
}

func TestBrokerStrings(t *testing.T) {
	in := &Input{
		Projects:   []string{"PJ1", "PJ1", "PJ2"},
		Collectors: []string{"CC1", "CC2", "*"},
		Intervals:  []uint32{100, 200, 300, 400},
	}

	assert.Equal(t, "PJ1,PJ1,PJ2", in.BrokerProjects())
	assert.Equal(t, "CC1,CC2,*", in.BrokerCollectors())
	assert.Equal(t, "100,200,300,400", in.BrokerIntervals())
}
