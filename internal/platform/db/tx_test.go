package db

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
)

// stubTx satisfies pgx.Tx; only identity matters in these tests.
type stubTx struct {
	pgx.Tx
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestContextWithTx_RoundTrip(t *testing.T) {
	tx := &stubTx{}
	ctx := ContextWithTx(context.Background(), tx)
	if got := TxFromContext(ctx); got != tx {
		t.Errorf("expected stored tx, got %v", got)
	}
}

func TestWithinTx_JoinsExistingTx(t *testing.T) {
	// A nil pool would panic if WithinTx tried to begin a new transaction.
	m := NewTxManager(nil)
	outer := &stubTx{}
	ctx := ContextWithTx(context.Background(), outer)

	called := false
	err := m.WithinTx(ctx, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) != outer {
			t.Error("expected inner context to carry the outer tx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

func TestWithinTx_JoinedErrorPropagates(t *testing.T) {
	m := NewTxManager(nil)
	ctx := ContextWithTx(context.Background(), &stubTx{})
	want := errors.New("boom")

	err := m.WithinTx(ctx, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestLockKeys_RequiresTx(t *testing.T) {
	err := LockKeys(context.Background(), "citas:2024-06-10")
	if !errors.Is(err, ErrNoTx) {
		t.Errorf("expected ErrNoTx, got %v", err)
	}
}

func TestSortedUniqueKeys(t *testing.T) {
	got := SortedUniqueKeys([]string{"citas:2024-06-11", "", "citas:2024-06-10", "citas:2024-06-11"})
	want := []string{"citas:2024-06-10", "citas:2024-06-11"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
