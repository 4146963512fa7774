package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatterns(t *testing.T) {
	policies := map[string]string{"release": `^release/.*`}

	tests := []struct {
		name     string
		patterns []string
		value    string
		want     bool
	}{
		{"literal exact", []string{"main"}, "main", true},
		{"literal is anchored", []string{"main"}, "maintenance", false},
		{"literal with dot", []string{"v1.2"}, "v1x2", false},
		{"regex", []string{`^feature/.*`}, "feature/x", true},
		{"policy name", []string{"release"}, "release/2.0", true},
		{"policy does not match literal", []string{"release"}, "release", false},
		{"negation wins", []string{"release", `!.*-wip$`}, "release/2.0-wip", false},
		{"exclude only", []string{"!main"}, "develop", true},
		{"no match", []string{"main"}, "feature/x", false},
		{"empty list", nil, "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp, err := CompilePatterns(tt.patterns, policies)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cp.Match(tt.value))
		})
	}
}

func TestCompilePatternsInvalid(t *testing.T) {
	_, err := CompilePatterns([]string{"^(oops"}, nil)
	assert.Error(t, err)
}

func TestCompiledPatternsEmpty(t *testing.T) {
	var nilPatterns *CompiledPatterns
	assert.True(t, nilPatterns.Empty())
	assert.True(t, nilPatterns.Match("x"))

	cp, err := CompilePatterns([]string{"main"}, nil)
	require.NoError(t, err)
	assert.False(t, cp.Empty())
}
