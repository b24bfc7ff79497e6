package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldPips(t *testing.T) {
	t.Parallel()

	gold, err := Lookup("XAU_USD")
	require.NoError(t, err)

	assert.InDelta(t, 0.1, gold.PipSize(), 1e-12)
	assert.Equal(t, 10.0, gold.PipValue())
	assert.Equal(t, 200.0, gold.ToPips(20))
	assert.Equal(t, 200.0, gold.ToPips(-20))
	assert.Equal(t, 10.0, gold.FromPips(100))
	assert.Equal(t, 2050.123, gold.RoundPrice(2050.12345))
}

func TestGoldPnL(t *testing.T) {
	t.Parallel()

	gold := Instruments["XAU_USD"]

	assert.Equal(t, -100.0, gold.PnL(Long, 2050, 2030, 0.05))
	assert.Equal(t, 100.0, gold.PnL(Short, 2050, 2030, 0.05))
	assert.Equal(t, 200.0, gold.PnL(Long, 2050, 2070, 0.1))
}

func TestLookupUnknown(t *testing.T) {
	t.Parallel()

	_, err := Lookup("XAG_USD")
	assert.Error(t, err)
}
