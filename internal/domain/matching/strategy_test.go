package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyFIFO, s)

	s, err = ParseStrategy("fefo")
	require.NoError(t, err)
	assert.Equal(t, StrategyFEFO, s)

	_, err = ParseStrategy("lifo")
	assert.Error(t, err)
}

func TestResolveStrategy(t *testing.T) {
	out := outbound(1, jan1)
	assert.Equal(t, StrategyFEFO, ResolveStrategy(out, StrategyFEFO))
	assert.Equal(t, StrategyFIFO, ResolveStrategy(out, StrategyLotPinned))

	out.Lot = "L-1"
	assert.Equal(t, StrategyLotPinned, ResolveStrategy(out, StrategyFEFO))
}
