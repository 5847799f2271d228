package budget

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paidflow/orchestrator/common/models"
)

func TestLedger_ReserveAndRelease(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Deposit("0xw", "USDC", 10))

	runID := uuid.New()
	res, err := l.Reserve(runID, "0xw", 5, "USDC", "base")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationReserved, res.Status)
	assert.Equal(t, models.Atomic(5), l.Balance("0xw", "USDC"))

	// Spent 2 of the reserved 5: wallet gets 3 back.
	require.NoError(t, l.Release(runID, 2))
	assert.Equal(t, models.Atomic(8), l.Balance("0xw", "USDC"))
	assert.Equal(t, models.ReservationReleased, l.Reservation(runID).Status)
}

func TestLedger_ReserveInsufficient(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Deposit("0xw", "USDC", 3))

	_, err := l.Reserve(uuid.New(), "0xw", 5, "USDC", "base")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, models.Atomic(3), l.Balance("0xw", "USDC"))
}

func TestLedger_DuplicateReservation(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Deposit("0xw", "USDC", 10))

	runID := uuid.New()
	_, err := l.Reserve(runID, "0xw", 2, "USDC", "base")
	require.NoError(t, err)

	_, err = l.Reserve(runID, "0xw", 2, "USDC", "base")
	assert.ErrorIs(t, err, ErrReservationExists)
}

func TestLedger_Settle(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Deposit("0xw", "USDC", 10))

	runID := uuid.New()
	_, err := l.Reserve(runID, "0xw", 4, "USDC", "base")
	require.NoError(t, err)

	require.NoError(t, l.Settle(runID))
	assert.Equal(t, models.Atomic(6), l.Balance("0xw", "USDC"))
	assert.Equal(t, models.ReservationSettled, l.Reservation(runID).Status)

	// Settled reservations cannot be released.
	assert.Error(t, l.Release(runID, 0))
}

func TestLedger_ReleaseOverspendRejected(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Deposit("0xw", "USDC", 10))

	runID := uuid.New()
	_, err := l.Reserve(runID, "0xw", 4, "USDC", "base")
	require.NoError(t, err)

	assert.Error(t, l.Release(runID, 5))
}

// Concurrent reserves against one wallet never overdraw it.
func TestLedger_ConcurrentReserves(t *testing.T) {
	l := NewLedger(nil)
	require.NoError(t, l.Deposit("0xw", "USDC", 100))

	var wg sync.WaitGroup
	granted := make(chan models.Atomic, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Reserve(uuid.New(), "0xw", 7, "USDC", "base"); err == nil {
				granted <- 7
			}
		}()
	}
	wg.Wait()
	close(granted)

	var total models.Atomic
	for amt := range granted {
		total += amt
	}
	assert.LessOrEqual(t, uint64(total), uint64(100))
	assert.Equal(t, models.Atomic(100)-total, l.Balance("0xw", "USDC"))
}
