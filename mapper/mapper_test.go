package mapper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rbaliyan/mailstore/store"
)

type fakeTx struct {
	commits     int32
	rollbacks   int32
	commitErr   error
	rollbackErr error
}

func (t *fakeTx) Commit(context.Context) error {
	atomic.AddInt32(&t.commits, 1)
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	atomic.AddInt32(&t.rollbacks, 1)
	return t.rollbackErr
}

type fakeBeginner struct {
	begins   int32
	tx       *fakeTx
	beginErr error
	ended    int32
}

func (b *fakeBeginner) BeginTx(context.Context) (store.Tx, error) {
	atomic.AddInt32(&b.begins, 1)
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

func (b *fakeBeginner) EndRequest(context.Context) {
	atomic.AddInt32(&b.ended, 1)
}

func TestTransactional_Commit(t *testing.T) {
	tx := &fakeTx{}
	b := &fakeBeginner{tx: tx}
	m := NewTransactional(b)

	var sawTx bool
	err := m.Execute(context.Background(), func(ctx context.Context) error {
		got, ok := store.TxFromContext(ctx)
		sawTx = ok && got == tx
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !sawTx {
		t.Error("work should receive the transaction in its context")
	}
	if tx.commits != 1 || tx.rollbacks != 0 {
		t.Errorf("expected 1 commit and 0 rollbacks, got %d/%d", tx.commits, tx.rollbacks)
	}
}

func TestTransactional_RollbackReturnsOriginalError(t *testing.T) {
	tests := []struct {
		name        string
		rollbackErr error
	}{
		{"rollback succeeds", nil},
		{"rollback fails", errors.New("rollback broke")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &fakeTx{rollbackErr: tt.rollbackErr}
			m := NewTransactional(&fakeBeginner{tx: tx})
			workErr := errors.New("write failed")

			err := m.Execute(context.Background(), func(context.Context) error {
				return workErr
			})
			if err != workErr {
				t.Errorf("expected the original error value, got %v", err)
			}
			if tx.rollbacks != 1 {
				t.Errorf("expected exactly one rollback, got %d", tx.rollbacks)
			}
			if tx.commits != 0 {
				t.Errorf("expected no commit, got %d", tx.commits)
			}
		})
	}
}

func TestTransactional_CommitFailureNoRollback(t *testing.T) {
	commitErr := errors.New("commit broke")
	tx := &fakeTx{commitErr: commitErr}
	m := NewTransactional(&fakeBeginner{tx: tx})

	err := m.Execute(context.Background(), func(context.Context) error { return nil })

	var ce *CommitError
	if !errors.As(err, &ce) || !errors.Is(err, commitErr) {
		t.Fatalf("expected CommitError wrapping cause, got %v", err)
	}
	if tx.rollbacks != 0 {
		t.Errorf("no rollback may follow a failed commit, got %d", tx.rollbacks)
	}
}

func TestTransactional_BeginFailure(t *testing.T) {
	beginErr := errors.New("no connection")
	m := NewTransactional(&fakeBeginner{beginErr: beginErr})

	ran := false
	err := m.Execute(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, beginErr) {
		t.Errorf("expected begin error, got %v", err)
	}
	if ran {
		t.Error("work must not run when begin fails")
	}
}

func TestTransactional_PanicRollsBack(t *testing.T) {
	tx := &fakeTx{}
	m := NewTransactional(&fakeBeginner{tx: tx})

	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("expected re-panic with boom, got %v", r)
		}
		if tx.rollbacks != 1 {
			t.Errorf("expected one rollback, got %d", tx.rollbacks)
		}
	}()
	_ = m.Execute(context.Background(), func(context.Context) error {
		panic("boom")
	})
}

func TestTransactional_NestedJoins(t *testing.T) {
	tx := &fakeTx{}
	b := &fakeBeginner{tx: tx}
	m := NewTransactional(b)

	err := m.Execute(context.Background(), func(ctx context.Context) error {
		return m.Execute(ctx, func(context.Context) error { return nil })
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if b.begins != 1 || tx.commits != 1 {
		t.Errorf("expected a single begin/commit, got %d/%d", b.begins, tx.commits)
	}
}

func TestAfterCommit(t *testing.T) {
	t.Run("runs after commit", func(t *testing.T) {
		tx := &fakeTx{}
		m := NewTransactional(&fakeBeginner{tx: tx})
		var ranBeforeCommit, ran bool

		err := m.Execute(context.Background(), func(ctx context.Context) error {
			AfterCommit(ctx, func(context.Context) {
				ran = true
				ranBeforeCommit = tx.commits == 0
			})
			if ran {
				t.Error("hook ran inside the transaction")
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if !ran || ranBeforeCommit {
			t.Errorf("hook should run once after commit (ran=%v, beforeCommit=%v)", ran, ranBeforeCommit)
		}
	})

	t.Run("dropped on rollback", func(t *testing.T) {
		m := NewTransactional(&fakeBeginner{tx: &fakeTx{}})
		ran := false
		_ = m.Execute(context.Background(), func(ctx context.Context) error {
			AfterCommit(ctx, func(context.Context) { ran = true })
			return errors.New("fail")
		})
		if ran {
			t.Error("hook must not run after rollback")
		}
	})

	t.Run("immediate without transaction", func(t *testing.T) {
		ran := false
		_ = NewNonTransactional().Execute(context.Background(), func(ctx context.Context) error {
			AfterCommit(ctx, func(context.Context) { ran = true })
			if !ran {
				t.Error("hook should run immediately")
			}
			return nil
		})
	})
}

func TestTransaction_IllegalTransitions(t *testing.T) {
	ctx := context.Background()
	tr := &Transaction{}

	if err := tr.Commit(ctx); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("commit from idle: expected ErrIllegalTransition, got %v", err)
	}
	if err := tr.Begin(ctx, &fakeBeginner{tx: &fakeTx{}}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Begin(ctx, &fakeBeginner{tx: &fakeTx{}}); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("double begin: expected ErrIllegalTransition, got %v", err)
	}
	if err := tr.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if tr.State() != StateRolledBack {
		t.Errorf("expected rolled-back, got %s", tr.State())
	}
	if err := tr.Rollback(ctx); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("double rollback: expected ErrIllegalTransition, got %v", err)
	}
}

func TestNonTransactional_PropagatesError(t *testing.T) {
	workErr := errors.New("partial")
	err := NewNonTransactional().Execute(context.Background(), func(context.Context) error { return workErr })
	if err != workErr {
		t.Errorf("expected original error, got %v", err)
	}
}

func TestExecuteGeneric(t *testing.T) {
	v, err := Execute(context.Background(), NewNonTransactional(), func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("expected 42, got %d (%v)", v, err)
	}

	res := <-ExecuteAsync(context.Background(), NewTransactional(&fakeBeginner{tx: &fakeTx{}}), func(context.Context) (string, error) {
		return "", errors.New("async failure")
	})
	if res.Err == nil || res.Value != "" {
		t.Errorf("expected error and zero value, got %+v", res)
	}
}

func TestTransactional_EndRequest(t *testing.T) {
	b := &fakeBeginner{tx: &fakeTx{}}
	m := NewTransactional(b)
	m.EndRequest(context.Background())
	m.EndRequest(context.Background())
	if b.ended != 2 {
		t.Errorf("expected EndRequest forwarded twice, got %d", b.ended)
	}
}
