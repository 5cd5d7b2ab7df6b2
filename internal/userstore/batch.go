package userstore

import (
	"context"
	"fmt"
)

// The store rejects transactions above a hard 500-operation ceiling;
// DefaultBatchLimit leaves headroom below it.
const (
	hardOpCeiling     = 500
	DefaultBatchLimit = 490
)

// CommitFunc commits one chunk of operations atomically. Repository's
// CommitOps satisfies this signature.
type CommitFunc func(ctx context.Context, ops []Op) error

// Batch accumulates operations and flushes a transaction whenever the
// running operation count reaches the limit. The final partial chunk must be
// flushed explicitly with Flush. A failed commit stops the batch; the error
// propagates to the caller and nothing further is written.
type Batch struct {
	limit   int
	commit  CommitFunc
	ops     []Op
	weight  int
	commits int
}

// NewBatch creates a batch with the given operation limit per transaction.
// A limit of 0 uses DefaultBatchLimit.
func NewBatch(limit int, commit CommitFunc) *Batch {
	if limit <= 0 || limit > hardOpCeiling {
		limit = DefaultBatchLimit
	}
	return &Batch{limit: limit, commit: commit}
}

// Add appends an op, flushing first if the op would push the running weight
// past the limit.
func (b *Batch) Add(ctx context.Context, op Op) error {
	w := op.Weight()
	if w == 0 {
		return nil
	}
	if b.weight+w > b.limit {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	b.ops = append(b.ops, op)
	b.weight += w
	return nil
}

// Flush commits any pending operations. Safe to call with an empty batch.
func (b *Batch) Flush(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	if err := b.commit(ctx, b.ops); err != nil {
		return fmt.Errorf("userstore: commit batch of %d ops: %w", b.weight, err)
	}
	b.commits++
	b.ops = b.ops[:0]
	b.weight = 0
	return nil
}

// Commits returns how many transactions have been committed so far.
func (b *Batch) Commits() int { return b.commits }
