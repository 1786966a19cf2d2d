package dbexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type mutationContextKey struct{}

// MutationContext holds the shared transaction of a GraphQL mutation request.
// Each batch runs under its own savepoint, so a failed batch is undone alone
// and the batches that succeeded commit with the request. Only a failure that
// leaves the transaction unusable marks it for rollback.
type MutationContext struct {
	tx         TxExecutor
	savepoints int
	hasError   bool
	finalized  bool
	mu         sync.Mutex
}

func NewMutationContext(tx TxExecutor) *MutationContext {
	return &MutationContext{tx: tx}
}

func (mc *MutationContext) Tx() TxExecutor {
	return mc.tx
}

func (mc *MutationContext) MarkError() {
	mc.mu.Lock()
	mc.hasError = true
	mc.mu.Unlock()
}

// runBatch runs fn between SAVEPOINT and RELEASE. When fn fails the batch is
// rolled back to its savepoint and fn's error is returned.
func (mc *MutationContext) runBatch(ctx context.Context, fn func(tx Querier) error) (err error) {
	name := mc.nextSavepoint()
	if _, err := mc.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		mc.MarkError()
		return fmt.Errorf("create savepoint %s: %w", name, err)
	}
	defer func() {
		if rec := recover(); rec != nil {
			mc.MarkError()
			panic(rec)
		}
	}()

	if err := fn(mc.tx); err != nil {
		if _, rbErr := mc.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			mc.MarkError()
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		return err
	}
	if _, err := mc.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		mc.MarkError()
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

func (mc *MutationContext) nextSavepoint() string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.savepoints++
	return fmt.Sprintf("batch_%d", mc.savepoints)
}

// HasError reports whether the transaction is marked for rollback.
func (mc *MutationContext) HasError() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.hasError
}

// Finalize commits or rolls back the transaction based on the error state.
// The lock is held throughout so MarkError cannot interleave with the commit.
func (mc *MutationContext) Finalize() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.finalized {
		return nil
	}
	mc.finalized = true

	if mc.hasError {
		return mc.tx.Rollback()
	}
	return mc.tx.Commit()
}

func WithMutationContext(ctx context.Context, mc *MutationContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, mutationContextKey{}, mc)
}

func MutationContextFromContext(ctx context.Context) *MutationContext {
	if ctx == nil {
		return nil
	}
	mc, _ := ctx.Value(mutationContextKey{}).(*MutationContext)
	return mc
}
