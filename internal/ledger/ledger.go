// Package ledger tracks the agent's daily coin budget. All mutations go
// through a single mutex so concurrent workers can never over-draw the
// balance.
package ledger

import (
	"sync"
	"time"

	"github.com/hcengineering/huly-ai-agent/internal/logging"
)

// Config sizes the daily budget.
type Config struct {
	// DailyAllocation is the balance granted at each UTC day boundary.
	DailyAllocation int64
	// ReservedFloor is the slice of balance only system tasks (sleep,
	// memory maintenance) may spend. Ordinary tasks must leave it intact.
	ReservedFloor int64
}

// PersistFunc writes the balance and the day boundary through to durable
// storage after each mutation.
type PersistFunc func(balance int64, day time.Time) error

// Ledger is the process-wide coin balance.
type Ledger struct {
	mu      sync.Mutex
	cfg     Config
	balance int64
	day     time.Time // UTC midnight of the last reset
	persist PersistFunc
	logger  logging.Logger
}

// New restores a ledger from the last persisted balance. A zero lastDay
// starts a fresh day at the first ResetIfNewDay call.
func New(cfg Config, balance int64, lastDay time.Time, persist PersistFunc, logger logging.Logger) *Ledger {
	return &Ledger{
		cfg:     cfg,
		balance: balance,
		day:     lastDay.UTC().Truncate(24 * time.Hour),
		persist: persist,
		logger:  logging.OrNop(logger),
	}
}

// Balance returns the current balance.
func (l *Ledger) Balance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// TryDebit atomically subtracts amount if the admission rule allows it.
// Ordinary tasks must leave the reserved floor intact; system tasks check
// against the unrestricted balance. Returns false without mutation when
// the balance is insufficient.
func (l *Ledger) TryDebit(amount int64, system bool) bool {
	if amount < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	available := l.balance
	if !system {
		available -= l.cfg.ReservedFloor
	}
	if available < amount {
		return false
	}
	l.balance -= amount
	l.persistLocked()
	return true
}

// Credit atomically adds amount back, used to refund the cost of a task
// that failed transiently.
func (l *Ledger) Credit(amount int64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
	l.persistLocked()
}

// ResetIfNewDay restores the daily allocation once per UTC day. Returns
// true when a reset happened.
func (l *Ledger) ResetIfNewDay(now time.Time) bool {
	day := now.UTC().Truncate(24 * time.Hour)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !day.After(l.day) {
		return false
	}
	l.balance = l.cfg.DailyAllocation
	l.day = day
	l.persistLocked()
	l.logger.Info("ledger: daily reset, balance=%d", l.balance)
	return true
}

func (l *Ledger) persistLocked() {
	if l.persist == nil {
		return
	}
	if err := l.persist(l.balance, l.day); err != nil {
		// The in-memory balance stays authoritative; the scheduler pauses
		// admissions separately when the store reports unhealthy.
		l.logger.Error("ledger: persist failed: %v", err)
	}
}
