package credits

import (
	"context"
	"sync"
	"testing"
)

func TestBalance_NewAccountGetsStarterCredits(t *testing.T) {
	t.Parallel()

	l := New(nil)
	bal, err := l.Balance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Balance() = %v", err)
	}
	if bal != StarterCredits {
		t.Errorf("balance = %d, want %d", bal, StarterCredits)
	}
}

func TestDebit(t *testing.T) {
	t.Parallel()

	l := New(nil)
	ctx := context.Background()

	ok, err := l.Debit(ctx, "alice", 3, "inc-1")
	if err != nil {
		t.Fatalf("Debit() = %v", err)
	}
	if !ok {
		t.Fatal("expected debit to succeed")
	}

	bal, _ := l.Balance(ctx, "alice")
	if bal != StarterCredits-3 {
		t.Errorf("balance = %d, want %d", bal, StarterCredits-3)
	}
}

func TestDebit_Declined(t *testing.T) {
	t.Parallel()

	l := New(nil)
	ctx := context.Background()

	ok, err := l.Debit(ctx, "alice", StarterCredits+1, "inc-1")
	if err != nil {
		t.Fatalf("Debit() = %v", err)
	}
	if ok {
		t.Fatal("expected debit to decline")
	}

	// A declined debit leaves the balance and the log untouched.
	bal, _ := l.Balance(ctx, "alice")
	if bal != StarterCredits {
		t.Errorf("balance = %d, want %d", bal, StarterCredits)
	}
	txs, _ := l.History(ctx, "alice")
	if len(txs) != 0 {
		t.Errorf("transaction count = %d, want 0", len(txs))
	}
}

func TestGrant(t *testing.T) {
	t.Parallel()

	l := New(nil)
	ctx := context.Background()

	bal, err := l.Grant(ctx, "alice", 90, "promo")
	if err != nil {
		t.Fatalf("Grant() = %v", err)
	}
	if bal != StarterCredits+90 {
		t.Errorf("balance = %d, want %d", bal, StarterCredits+90)
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	l := New(nil)
	ctx := context.Background()

	if _, err := l.Grant(ctx, "alice", 5, "promo"); err != nil {
		t.Fatalf("Grant() = %v", err)
	}
	if _, err := l.Debit(ctx, "alice", 2, "inc-1"); err != nil {
		t.Fatalf("Debit() = %v", err)
	}
	if _, err := l.Debit(ctx, "bob", 1, "inc-2"); err != nil {
		t.Fatalf("Debit() = %v", err)
	}

	txs, err := l.History(ctx, "alice")
	if err != nil {
		t.Fatalf("History() = %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("transaction count = %d, want 2", len(txs))
	}

	if txs[0].Amount != 5 || txs[0].Ref != "promo" {
		t.Errorf("first tx = %+v", txs[0])
	}
	if txs[1].Amount != -2 || txs[1].Ref != "inc-1" {
		t.Errorf("second tx = %+v", txs[1])
	}
	// Each entry carries the post-transaction balance.
	if txs[0].Balance != StarterCredits+5 {
		t.Errorf("first balance = %d, want %d", txs[0].Balance, StarterCredits+5)
	}
	if txs[1].Balance != StarterCredits+3 {
		t.Errorf("second balance = %d, want %d", txs[1].Balance, StarterCredits+3)
	}
}

func TestTierFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		balance int
		want    Tier
	}{
		{0, TierStandard},
		{99, TierStandard},
		{100, TierPremium},
		{999, TierPremium},
		{1000, TierEnterprise},
		{5000, TierEnterprise},
	}
	for _, tt := range tests {
		if got := TierFor(tt.balance); got != tt.want {
			t.Errorf("TierFor(%d) = %q, want %q", tt.balance, got, tt.want)
		}
	}
}

func TestDebit_Concurrent(t *testing.T) {
	t.Parallel()

	l := New(nil)
	ctx := context.Background()
	if _, err := l.Grant(ctx, "alice", 90, "seed"); err != nil {
		t.Fatalf("Grant() = %v", err)
	}
	// Balance is now 100; exactly 100 single-credit debits can succeed.

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Debit(ctx, "alice", 1, "inc")
			if err != nil {
				t.Errorf("Debit() = %v", err)
				return
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 100 {
		t.Errorf("successful debits = %d, want 100", succeeded)
	}
	bal, _ := l.Balance(ctx, "alice")
	if bal != 0 {
		t.Errorf("final balance = %d, want 0", bal)
	}
}
