package roster

import (
	"context"
	"testing"
)

const secondsPerWeek = 7 * 24 * 3600

func mustCredit(t *testing.T, service *Service, userID int64, username, project string, amount int64) {
	t.Helper()
	if err := service.CreditBalance(context.Background(), userID, username, project, amount); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
}

func TestCreditBalanceAccumulatesWithinWeek(t *testing.T) {
	service, _, _ := newTestService(t)

	mustCredit(t, service, 100, "alice", "launch", 5)
	mustCredit(t, service, 100, "alice", "launch", 3)

	balances, err := service.ProjectBalances(context.Background(), "launch")
	if err != nil {
		t.Fatalf("failed to list balances: %v", err)
	}
	if len(balances) != 1 || balances[0].Balance != 8 {
		t.Fatalf("expected accumulated balance of 8, got %+v", balances)
	}
}

func TestCreditBalanceResetsAfterStaleWeek(t *testing.T) {
	service, _, now := newTestService(t)

	mustCredit(t, service, 100, "alice", "launch", 5)

	// Next ISO week: the stale row counts as swept and the credit starts a
	// fresh total.
	*now += secondsPerWeek
	mustCredit(t, service, 100, "alice", "launch", 3)

	balances, err := service.ProjectBalances(context.Background(), "launch")
	if err != nil {
		t.Fatalf("failed to list balances: %v", err)
	}
	if len(balances) != 1 || balances[0].Balance != 3 {
		t.Fatalf("expected stale balance replaced by 3, got %+v", balances)
	}
}

func TestProjectBalancesOrderAndWeekScope(t *testing.T) {
	service, _, now := newTestService(t)

	mustCredit(t, service, 100, "alice", "launch", 2)
	mustCredit(t, service, 200, "bob", "launch", 9)
	mustCredit(t, service, 300, "carol", "other", 50)

	balances, err := service.ProjectBalances(context.Background(), "launch")
	if err != nil {
		t.Fatalf("failed to list balances: %v", err)
	}
	if len(balances) != 2 {
		t.Fatalf("expected two launch balances, got %+v", balances)
	}
	if balances[0].UserID != 200 || balances[1].UserID != 100 {
		t.Fatalf("expected highest balance first, got %+v", balances)
	}

	// Rows from a previous week drop out of the listing until swept.
	*now += secondsPerWeek
	balances, err = service.ProjectBalances(context.Background(), "launch")
	if err != nil {
		t.Fatalf("failed to list balances: %v", err)
	}
	if len(balances) != 0 {
		t.Fatalf("expected stale rows hidden, got %+v", balances)
	}
}

func TestResetWeekSweepsStaleRows(t *testing.T) {
	service, db, now := newTestService(t)

	mustCredit(t, service, 100, "alice", "launch", 5)
	mustCredit(t, service, 200, "bob", "launch", 9)

	*now += secondsPerWeek
	mustCredit(t, service, 300, "carol", "launch", 4)

	swept, err := service.ResetWeek(context.Background())
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected two stale rows swept, got %d", swept)
	}

	var rows []ProjectBalance
	if err := db.Order("user_id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to list rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected three rows, got %d", len(rows))
	}
	if rows[0].Balance != 0 || rows[1].Balance != 0 {
		t.Fatalf("expected stale balances zeroed, got %+v", rows)
	}
	if rows[2].Balance != 4 {
		t.Fatalf("expected the current week balance untouched, got %+v", rows[2])
	}

	// A second sweep in the same week finds nothing stale.
	swept, err = service.ResetWeek(context.Background())
	if err != nil {
		t.Fatalf("repeat reset failed: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected idempotent sweep, got %d", swept)
	}
}
