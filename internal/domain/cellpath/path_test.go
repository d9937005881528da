package cellpath

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	p := Parse("api-cell!child-cell2!grandchild-cell1")
	require.Equal(t, Path{"api-cell", "child-cell2", "grandchild-cell1"}, p)
	assert.Equal(t, "api-cell!child-cell2!grandchild-cell1", p.String())
}

func TestReverseInvolution(t *testing.T) {
	// invariant 3 from spec.md section 8: reverse(reverse(path)) == path
	samples := []Path{
		{"api-cell"},
		{"api-cell", "child-cell2"},
		{"api-cell", "child-cell2", "grandchild-cell1"},
	}
	for _, p := range samples {
		assert.Equal(t, p, p.Reverse().Reverse())
	}

	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		n := 1 + rnd.Intn(6)
		p := make(Path, n)
		for j := range p {
			p[j] = string(rune('a' + rnd.Intn(26)))
		}
		assert.Equal(t, p, p.Reverse().Reverse())
	}
}

func TestCommonPrefixLen(t *testing.T) {
	a := Path{"api-cell", "child-cell2", "grandchild-cell1"}
	b := Path{"api-cell", "child-cell2"}
	assert.Equal(t, 2, a.CommonPrefixLen(b))
	assert.Equal(t, 2, b.CommonPrefixLen(a))

	next, ok := a.NextAfter(b.CommonPrefixLen(a))
	require.True(t, ok)
	assert.Equal(t, "grandchild-cell1", next)
}

func TestChildDoesNotMutateReceiver(t *testing.T) {
	base := Path{"api-cell"}
	child := base.Child("child-cell2")
	assert.Equal(t, Path{"api-cell"}, base)
	assert.Equal(t, Path{"api-cell", "child-cell2"}, child)
}
