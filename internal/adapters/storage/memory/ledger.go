package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/persona-chat/internal/domain"
)

// Ledger is an in-memory domain.TokenLedger.
// It is NOT persistent and is only suitable for development / local mode.
type Ledger struct {
	mu       sync.Mutex
	balances map[domain.UserID]int64
	debits   []domain.Debit
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[domain.UserID]int64),
	}
}

// Grant adds tokens to a user's balance.
func (l *Ledger) Grant(userID domain.UserID, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
}

// OpenAccount sets the opening balance unless the user already has an account.
func (l *Ledger) OpenAccount(ctx context.Context, userID domain.UserID, opening int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[userID]; !ok {
		l.balances[userID] = opening
	}
	return nil
}

func (l *Ledger) Balance(userID domain.UserID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// Debits returns the recorded debits, oldest first.
func (l *Ledger) Debits() []domain.Debit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Debit(nil), l.debits...)
}

func (l *Ledger) CheckBalance(ctx context.Context, userID domain.UserID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID] > 0, nil
}

func (l *Ledger) Debit(ctx context.Context, d domain.Debit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[d.UserID] < d.Cost {
		return fmt.Errorf("debit %d from %s: %w", d.Cost, d.UserID, domain.ErrInsufficientTokens)
	}
	l.balances[d.UserID] -= d.Cost
	l.debits = append(l.debits, d)
	return nil
}
