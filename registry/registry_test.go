package registry

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesis/acre-allocator/events"
)

var (
	gov     = common.HexToAddress("0x0000000000000000000000000000000000000901")
	someone = common.HexToAddress("0x0000000000000000000000000000000000000902")
	destA   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	destB   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	destC   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestAddDestination(t *testing.T) {
	r := NewAllocationRegistry(gov, nil)

	require.NoError(t, r.AddDestination(gov, destA))
	assert.True(t, r.IsDestination(destA))
	assert.False(t, r.IsDestination(destB))

	err := r.AddDestination(gov, destA)
	assert.ErrorIs(t, err, ErrAlreadyApproved)
}

func TestRemoveDestinationSwapPop(t *testing.T) {
	r := NewAllocationRegistry(gov, nil)
	for _, d := range []common.Address{destA, destB, destC} {
		require.NoError(t, r.AddDestination(gov, d))
	}

	require.NoError(t, r.RemoveDestination(gov, destA))
	assert.False(t, r.IsDestination(destA))

	// order is unspecified after swap-pop but both survivors remain exactly once
	got := r.Destinations()
	assert.Len(t, got, 2)
	assert.ElementsMatch(t, []common.Address{destB, destC}, got)

	assert.ErrorIs(t, r.RemoveDestination(gov, destA), ErrNotApproved)
}

func TestRemoveThenReAdd(t *testing.T) {
	r := NewAllocationRegistry(gov, nil)
	require.NoError(t, r.AddDestination(gov, destA))
	require.NoError(t, r.RemoveDestination(gov, destA))
	require.NoError(t, r.AddDestination(gov, destA))
	assert.True(t, r.IsDestination(destA))
	assert.Len(t, r.Destinations(), 1)
}

func TestGovernanceOnly(t *testing.T) {
	r := NewAllocationRegistry(gov, nil)

	assert.ErrorIs(t, r.AddDestination(someone, destA), ErrUnauthorized)
	assert.ErrorIs(t, r.RemoveDestination(someone, destA), ErrUnauthorized)
	assert.ErrorIs(t, r.AddMaintainer(someone, destA), ErrUnauthorized)
	assert.ErrorIs(t, r.RemoveMaintainer(someone, destA), ErrUnauthorized)
}

func TestMaintainers(t *testing.T) {
	r := NewAllocationRegistry(gov, nil)

	assert.ErrorIs(t, r.AddMaintainer(gov, common.Address{}), ErrZeroAddress)

	require.NoError(t, r.AddMaintainer(gov, someone))
	assert.True(t, r.IsMaintainer(someone))
	assert.ErrorIs(t, r.AddMaintainer(gov, someone), ErrAlreadyRegistered)

	require.NoError(t, r.RemoveMaintainer(gov, someone))
	assert.False(t, r.IsMaintainer(someone))
	assert.ErrorIs(t, r.RemoveMaintainer(gov, someone), ErrNotRegistered)
}

func TestRegistryEvents(t *testing.T) {
	em := events.NewEmitter()
	ch := make(chan events.Event, 8)
	sub := em.Subscribe(ch)
	defer sub.Unsubscribe()

	r := NewAllocationRegistry(gov, em)
	require.NoError(t, r.AddDestination(gov, destA))
	require.NoError(t, r.RemoveDestination(gov, destA))

	ev := <-ch
	assert.Equal(t, events.DestinationAdded, ev.Kind)
	assert.Equal(t, destA, ev.Destination)
	assert.NotEmpty(t, ev.ID)

	ev = <-ch
	assert.Equal(t, events.DestinationRemoved, ev.Kind)
}
