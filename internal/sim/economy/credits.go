// Package economy defines the credit-ledger collaborator the build engine
// debits against. Economic policy (daily resets, transfers) lives outside
// this repository; the core only needs affordability checks and atomic
// debits.
package economy

import (
	"errors"
	"sync"
)

// ErrInsufficientCredits is the sentinel a transactional placer returns when
// the debit half of a placement is refused.
var ErrInsufficientCredits = errors.New("insufficient credits")

type Ledger interface {
	// CanAfford reports whether the actor's balance covers amount, without
	// debiting.
	CanAfford(actorID string, amount int) (bool, error)

	// CheckAndDebit atomically debits amount if the balance covers it.
	// Returns false (and no error) when it does not.
	CheckAndDebit(actorID string, amount int) (bool, error)
}

// MemoryLedger is the in-process implementation used by tests and by the
// server's no-database mode. Actors not yet seen start at the seed balance.
type MemoryLedger struct {
	mu       sync.Mutex
	seed     int
	balances map[string]int
}

func NewMemoryLedger(seed int) *MemoryLedger {
	return &MemoryLedger{seed: seed, balances: map[string]int{}}
}

func (l *MemoryLedger) balanceLocked(actorID string) int {
	b, ok := l.balances[actorID]
	if !ok {
		b = l.seed
		l.balances[actorID] = b
	}
	return b
}

func (l *MemoryLedger) Balance(actorID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(actorID)
}

func (l *MemoryLedger) SetBalance(actorID string, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[actorID] = n
}

func (l *MemoryLedger) CanAfford(actorID string, amount int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(actorID) >= amount, nil
}

func (l *MemoryLedger) CheckAndDebit(actorID string, amount int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balanceLocked(actorID)
	if b < amount {
		return false, nil
	}
	l.balances[actorID] = b - amount
	return true, nil
}
