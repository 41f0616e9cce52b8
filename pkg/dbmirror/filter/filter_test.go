package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_Match(t *testing.T) {
	t.Parallel()

	rule := MustNew([]string{"*_prot*"}, []string{"*_old*"})

	tests := []struct {
		name string
		want bool
	}{
		{name: "nr_prot", want: true},
		{name: "nr_prot_old", want: false},
		{name: "swissprot", want: false},
		{name: "nt_old", want: false},
		{name: "landmark_prot_v5", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, rule.Match(tt.name))
		})
	}
}

func TestRule_NoIncludeMatchesNothing(t *testing.T) {
	t.Parallel()

	rule := MustNew(nil, nil)
	assert.False(t, rule.Match("nr"))

	rule = MustNew([]string{"nt"}, nil)
	assert.False(t, rule.Match("nr"), "name outside include is excluded regardless of exclude")
}

func TestRule_DefaultIncludesAll(t *testing.T) {
	t.Parallel()

	rule := MustNew(DefaultInclude, []string{"env_*"})
	assert.Equal(t, []string{"nr", "nt", "swissprot"},
		rule.Filter([]string{"nr", "env_nr", "nt", "swissprot", "env_nt"}))
}

func TestRule_GlobSyntax(t *testing.T) {
	t.Parallel()

	rule := MustNew([]string{"{nr,nt}", "pdb?a", "16S_[a-z]*"}, nil)

	assert.True(t, rule.Match("nr"))
	assert.True(t, rule.Match("nt"))
	assert.True(t, rule.Match("pdbaa"))
	assert.True(t, rule.Match("16S_ribosomal_RNA"))
	assert.False(t, rule.Match("pdbnt_extra"))
	assert.False(t, rule.Match("16S_Ribosomal"))
}

func TestNew_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := New([]string{"[unterminated"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[unterminated")

	_, err = New([]string{"*"}, []string{"[x"})
	assert.Error(t, err)
}

func TestNew_CopiesPatterns(t *testing.T) {
	t.Parallel()

	include := []string{"nr"}
	rule := MustNew(include, nil)
	include[0] = "nt"

	assert.Equal(t, []string{"nr"}, rule.Include)
	assert.True(t, rule.Match("nr"))
}
