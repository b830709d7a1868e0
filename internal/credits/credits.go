// Package credits implements the incident.Ledger credit accounting.
package credits

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// StarterCredits is the balance a previously unseen account starts with.
const StarterCredits = 10

// Tier labels an account by its current balance.
type Tier string

const (
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// TierFor buckets a balance into a tier.
func TierFor(balance int) Tier {
	switch {
	case balance >= 1000:
		return TierEnterprise
	case balance >= 100:
		return TierPremium
	default:
		return TierStandard
	}
}

// Transaction is one append-only ledger entry. Amount is negative for debits.
type Transaction struct {
	Account string    `json:"account"`
	Amount  int       `json:"amount"`
	Ref     string    `json:"ref"`
	Balance int       `json:"balance"`
	At      time.Time `json:"at"`
}

// Ledger is an in-memory credit ledger. Accounts are created lazily with the
// starter balance on first touch. Debits never take a balance below zero; an
// insufficient balance declines the debit instead.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]int
	txlog    []Transaction
	logger   log.Logger
}

// New creates an empty Ledger.
func New(logger log.Logger) *Ledger {
	if logger == nil {
		logger = log.Nop()
	}
	return &Ledger{
		balances: make(map[string]int),
		logger:   logger.With("component", "credits"),
	}
}

// Balance returns the account's current balance, creating the account with
// the starter balance if it is new.
func (l *Ledger) Balance(_ context.Context, account string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.touch(account), nil
}

// Debit deducts amount from the account, recording a transaction. Returns
// false without changing the balance when the account cannot cover it.
func (l *Ledger) Debit(ctx context.Context, account string, amount int, ref string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.touch(account)
	if balance < amount {
		l.logger.Warn(ctx, "debit declined", "account", account, "amount", amount, "balance", balance)
		return false, nil
	}

	balance -= amount
	l.balances[account] = balance
	l.txlog = append(l.txlog, Transaction{
		Account: account,
		Amount:  -amount,
		Ref:     ref,
		Balance: balance,
		At:      time.Now().UTC(),
	})
	return true, nil
}

// Grant adds credits to an account and returns the new balance.
func (l *Ledger) Grant(_ context.Context, account string, amount int, ref string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.touch(account) + amount
	l.balances[account] = balance
	l.txlog = append(l.txlog, Transaction{
		Account: account,
		Amount:  amount,
		Ref:     ref,
		Balance: balance,
		At:      time.Now().UTC(),
	})
	return balance, nil
}

// History returns the account's transactions in chronological order.
func (l *Ledger) History(_ context.Context, account string) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var txs []Transaction
	for _, tx := range l.txlog {
		if tx.Account == account {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

// touch must be called with the mutex held.
func (l *Ledger) touch(account string) int {
	if _, ok := l.balances[account]; !ok {
		l.balances[account] = StarterCredits
	}
	return l.balances[account]
}
