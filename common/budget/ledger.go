// Package budget tracks wallet balances and per-run reservations.
// Balances are non-negative integers in the token's atomic base unit;
// every mutation is serialized under the ledger lock so concurrent
// reserves can never overdraw a wallet.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paidflow/orchestrator/common/models"
)

// ErrInsufficientFunds is returned when a wallet balance is below a
// requested reservation.
var ErrInsufficientFunds = errors.New("insufficient budget")

// ErrReservationExists is returned when a run already holds a live
// reservation.
var ErrReservationExists = errors.New("reservation already exists for run")

// ErrReservationNotFound is returned for operations on unknown runs.
var ErrReservationNotFound = errors.New("reservation not found")

// Logger is the narrow logging interface the ledger uses.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

type balanceKey struct {
	wallet string
	token  string
}

// Ledger is an in-memory budget ledger.
type Ledger struct {
	mu           sync.Mutex
	balances     map[balanceKey]models.Atomic
	reservations map[uuid.UUID]*models.Reservation
	logger       Logger
}

// NewLedger creates an empty ledger.
func NewLedger(logger Logger) *Ledger {
	return &Ledger{
		balances:     make(map[balanceKey]models.Atomic),
		reservations: make(map[uuid.UUID]*models.Reservation),
		logger:       logger,
	}
}

// Deposit credits a wallet. Used to fund wallets at setup time.
func (l *Ledger) Deposit(wallet, token string, amount models.Atomic) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := balanceKey{wallet, token}
	next, err := l.balances[key].Add(amount)
	if err != nil {
		return err
	}
	l.balances[key] = next
	return nil
}

// Balance returns the available (unreserved) balance, defaulting to 0.
func (l *Ledger) Balance(wallet, token string) models.Atomic {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{wallet, token}]
}

// Reserve atomically checks balance ≥ amount, debits the wallet and
// creates a reserved reservation keyed by runID. The check and the
// debit happen under one lock: two concurrent reserves cannot both
// observe the same balance.
func (l *Ledger) Reserve(runID uuid.UUID, wallet string, amount models.Atomic, token, chain string) (*models.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.reservations[runID]; ok && existing.Status == models.ReservationReserved {
		return nil, fmt.Errorf("run %s: %w", runID, ErrReservationExists)
	}

	key := balanceKey{wallet, token}
	balance := l.balances[key]
	if balance < amount {
		return nil, fmt.Errorf("wallet %s has %s, need %s: %w", wallet, balance, amount, ErrInsufficientFunds)
	}

	remaining, err := balance.Sub(amount)
	if err != nil {
		return nil, err
	}
	l.balances[key] = remaining

	res := &models.Reservation{
		ID:        uuid.New(),
		RunID:     runID,
		Wallet:    wallet,
		Amount:    amount,
		Token:     token,
		Chain:     chain,
		Status:    models.ReservationReserved,
		CreatedAt: time.Now().UTC(),
	}
	l.reservations[runID] = res

	if l.logger != nil {
		l.logger.Debug("budget reserved", "run_id", runID, "wallet", wallet, "amount", amount)
	}
	return res, nil
}

// Release refunds reserved−spent to the wallet and marks the
// reservation released. Callers must not release twice.
func (l *Ledger) Release(runID uuid.UUID, spent models.Atomic) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrReservationNotFound)
	}
	if res.Status != models.ReservationReserved {
		return fmt.Errorf("run %s: reservation is %s, cannot release", runID, res.Status)
	}

	refund, err := res.Amount.Sub(spent)
	if err != nil {
		return fmt.Errorf("spent exceeds reservation: %w", err)
	}

	key := balanceKey{res.Wallet, res.Token}
	next, err := l.balances[key].Add(refund)
	if err != nil {
		return err
	}
	l.balances[key] = next
	res.Status = models.ReservationReleased

	if l.logger != nil {
		l.logger.Debug("budget released", "run_id", runID, "refund", refund, "spent", spent)
	}
	return nil
}

// Settle marks the reservation settled, consuming the remaining
// reserved funds without refund.
func (l *Ledger) Settle(runID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ErrReservationNotFound)
	}
	if res.Status != models.ReservationReserved {
		return fmt.Errorf("run %s: reservation is %s, cannot settle", runID, res.Status)
	}
	res.Status = models.ReservationSettled

	if l.logger != nil {
		l.logger.Debug("budget settled", "run_id", runID, "amount", res.Amount)
	}
	return nil
}

// Reservation returns the reservation for a run, or nil.
func (l *Ledger) Reservation(runID uuid.UUID) *models.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.reservations[runID]
	if !ok {
		return nil
	}
	copy := *res
	return &copy
}
