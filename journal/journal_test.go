package journal

import (
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesis/acre-allocator/events"
)

var dest = common.HexToAddress("0x0000000000000000000000000000000000000501")

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndQuery(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Record(events.Event{
		ID:          "ev-1",
		Kind:        events.DepositAllocated,
		At:          time.Unix(100, 0),
		Destination: dest,
		DepositID:   1,
		Amount:      big.NewInt(600),
		Total:       big.NewInt(600),
	}))
	require.NoError(t, j.Record(events.Event{
		ID:        "ev-2",
		Kind:      events.DepositWithdrawn,
		At:        time.Unix(200, 0),
		DepositID: 1,
		Amount:    big.NewInt(200),
	}))

	recent, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "ev-2", recent[0].ID, "newest first")
	assert.Equal(t, events.DepositWithdrawn, recent[0].Kind)
	assert.Equal(t, int64(200), recent[0].Amount.Int64())
	assert.Nil(t, recent[0].Total)

	allocated, err := j.ByKind(events.DepositAllocated, 10)
	require.NoError(t, err)
	require.Len(t, allocated, 1)
	assert.Equal(t, dest, allocated[0].Destination)
	assert.Equal(t, int64(600), allocated[0].Total.Int64())
}

func TestAttachDrainsEmitter(t *testing.T) {
	j := openTestJournal(t)
	em := events.NewEmitter()
	j.Attach(em)

	em.Emit(events.Event{Kind: events.DestinationAdded, Destination: dest})
	em.Emit(events.Event{Kind: events.DestinationRemoved, Destination: dest})

	// the drain goroutine is asynchronous; poll briefly
	deadline := time.Now().Add(2 * time.Second)
	for {
		recent, err := j.Recent(10)
		require.NoError(t, err)
		if len(recent) == 2 {
			assert.NotEmpty(t, recent[0].ID)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("journal drained %d of 2 events", len(recent))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
