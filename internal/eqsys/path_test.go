package eqsys

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath_Dotted(t *testing.T) {
	p, err := ParsePath("feed.outlet.pressure")
	require.NoError(t, err)
	assert.Equal(t, []string{"feed", "outlet", "pressure"}, p.Segments)
	assert.Nil(t, p.Index)
	assert.False(t, p.Indexed())
	assert.Equal(t, "feed.outlet.pressure", p.String())
}

func TestParsePath_IndexedStripsQuotes(t *testing.T) {
	p, err := ParsePath("ro.feed_side.cp[0.0, 'NaCl']")
	require.NoError(t, err)
	assert.Equal(t, "ro.feed_side.cp", p.Base())
	assert.Equal(t, []string{"0.0", "NaCl"}, p.Index)
	assert.Equal(t, "ro.feed_side.cp[0.0,NaCl]", p.String())
}

func TestParsePath_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"unterminated":   "feed.flow[H2O",
		"empty element":  "feed.flow[H2O,]",
		"empty segment":  "feed..flow",
		"nested":         "feed.flow[a[1]]",
		"leading dot":    ".flow",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePath(in)
			require.Error(t, err)
			assert.True(t, IsPathNotFound(err), "parse failures count as unresolvable paths")
		})
	}
}

func TestPath_Match(t *testing.T) {
	concrete := MustParsePath("ro.permeate.flow[NaCl]")

	tests := []struct {
		pattern string
		want    bool
	}{
		{"ro.permeate.flow[NaCl]", true},
		{"ro.permeate.flow[*]", true},
		{"ro.*.flow[NaCl]", true},
		{"ro.permeate.flow", true},
		{"ro.permeate.flow[H2O]", false},
		{"ro.retentate.flow[*]", false},
		{"ro.permeate.flow[*,*]", false},
		{"ro.permeate", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParsePath(tt.pattern).Match(concrete))
		})
	}
}

func TestPath_IndexedPatternDoesNotMatchScalar(t *testing.T) {
	assert.False(t, MustParsePath("pump.deltaP[*]").Match(MustParsePath("pump.deltaP")))
	assert.True(t, MustParsePath("pump.deltaP").Match(MustParsePath("pump.deltaP")))
}

func TestPath_HasWildcard(t *testing.T) {
	assert.True(t, MustParsePath("a.*.c").HasWildcard())
	assert.True(t, MustParsePath("a.b[*]").HasWildcard())
	assert.False(t, MustParsePath("a.b[x]").HasWildcard())
}

func TestPathError_Is(t *testing.T) {
	err := NotFound("fix", "nope.var")
	assert.True(t, errors.Is(err, ErrPathNotFound))
	assert.Equal(t, "fix nope.var: path not found", err.Error())

	wrapped := errors.Join(errors.New("outer"), err)
	assert.True(t, IsPathNotFound(wrapped))
}

func TestParseTermination(t *testing.T) {
	assert.Equal(t, TerminationOptimal, ParseTermination("optimal"))
	assert.Equal(t, TerminationOptimal, ParseTermination("locallyOptimal"))
	assert.Equal(t, TerminationInfeasible, ParseTermination("locallyInfeasible"))
	assert.Equal(t, TerminationMaxIterations, ParseTermination("maxIterations"))
	assert.Equal(t, TerminationOther, ParseTermination("intermediateNonInteger"))
}
