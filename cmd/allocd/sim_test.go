package main

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config {
	t.Helper()
	return &config{
		Tick:         time.Second,
		JournalPath:  filepath.Join(t.TempDir(), "events.db"),
		Destinations: 2,
		Reserve:      100,
		Supply:       1100,
	}
}

func TestSweepAllocatesSurplus(t *testing.T) {
	sim, err := newSimulation(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer sim.Close()

	require.NoError(t, sim.sweep())

	// 1000 of surplus split across two destinations, reserve stays liquid
	assert.Equal(t, int64(100), sim.book.BalanceOf(stbtcAddr).Int64())
	total := big.NewInt(0)
	for _, v := range sim.vaults {
		total.Add(total, v.TotalAssets())
	}
	assert.Equal(t, int64(1000), total.Int64())
	assert.Equal(t, int64(0), sim.book.BalanceOf(dispatcherAddr).Int64())
}

func TestSweepIsIdempotentAtReserve(t *testing.T) {
	sim, err := newSimulation(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer sim.Close()

	require.NoError(t, sim.sweep())
	require.NoError(t, sim.sweep())
	assert.Equal(t, int64(100), sim.book.BalanceOf(stbtcAddr).Int64())
}

func TestAccrueRaisesShareValue(t *testing.T) {
	sim, err := newSimulation(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer sim.Close()

	require.NoError(t, sim.sweep())
	before := sim.vaults[0].TotalAssets()
	sim.accrue()
	assert.Equal(t, 1, sim.vaults[0].TotalAssets().Cmp(before))
	assert.Equal(t, before.String(), sim.vaults[0].TotalShares().String(),
		"yield accrues to assets, not shares")
}
