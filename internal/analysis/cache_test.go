package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"

	"statement-analyzer/internal/domain"
)

func TestCache_MemoizesByContent(t *testing.T) {
	c := NewCache()

	first, err := c.Enrich(scenarioTable())
	require.NoError(t, err)
	second, err := c.Enrich(scenarioTable())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, c.Misses())
	require.Equal(t, 1, c.Len())
}

func TestCache_ReturnsIndependentCopies(t *testing.T) {
	c := NewCache()
	first, err := c.Enrich(scenarioTable())
	require.NoError(t, err)
	first[0].GrowthPct = -1

	second, err := c.Enrich(scenarioTable())
	require.NoError(t, err)
	require.InDelta(t, 20.0, second[0].GrowthPct, 1e-9)
}

func TestCache_DistinctContentDistinctEntries(t *testing.T) {
	c := NewCache()
	_, err := c.Enrich(scenarioTable())
	require.NoError(t, err)

	changed := scenarioTable()
	changed[1].Current = 601
	_, err = c.Enrich(changed)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
}

func TestCache_MemoizesFailure(t *testing.T) {
	c := NewCache()
	raw := domain.LineItemTable{{Label: "Cash", Prior: 1, Current: 2}}
	_, err := c.Enrich(raw)
	require.ErrorIs(t, err, ErrMissingAnchorRow)
	_, err = c.Enrich(raw)
	require.ErrorIs(t, err, ErrMissingAnchorRow)
	require.Equal(t, 1, c.Misses())
}

func TestDigest_LabelBoundaries(t *testing.T) {
	a := domain.LineItemTable{{Label: "ab"}, {Label: "c"}}
	b := domain.LineItemTable{{Label: "a"}, {Label: "bc"}}
	require.NotEqual(t, Digest(a), Digest(b))
}
