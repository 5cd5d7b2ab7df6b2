package userstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/domain"
)

func clickOp(userID string, i int) Op {
	return Op{
		UserID: userID,
		Record: &RecordMerge{
			MessageID:  fmt.Sprintf("msg-%d", i),
			Key:        "click_1700000000000",
			Event:      domain.EmailEvent{Event: "click"},
			ClickDelta: 1,
		},
	}
}

func TestBatchChunksLargeEventSets(t *testing.T) {
	ctx := context.Background()

	var committed [][]Op
	batch := NewBatch(DefaultBatchLimit, func(ctx context.Context, ops []Op) error {
		committed = append(committed, append([]Op(nil), ops...))
		return nil
	})

	const n = 1000
	for i := 0; i < n; i++ {
		require.NoError(t, batch.Add(ctx, clickOp("user-42", i)))
	}
	require.NoError(t, batch.Flush(ctx))

	// 1000 single-weight ops at a 490 limit: 490 + 490 + 20.
	assert.Equal(t, 3, batch.Commits())
	require.Len(t, committed, 3)
	assert.Len(t, committed[0], 490)
	assert.Len(t, committed[1], 490)
	assert.Len(t, committed[2], 20)

	total := 0
	for _, chunk := range committed {
		total += len(chunk)
	}
	assert.Equal(t, n, total)
}

func TestBatchCountsCombinedOpsDouble(t *testing.T) {
	ctx := context.Background()

	var weights []int
	batch := NewBatch(10, func(ctx context.Context, ops []Op) error {
		w := 0
		for _, op := range ops {
			w += op.Weight()
		}
		weights = append(weights, w)
		return nil
	})

	now := time.Now()
	optIn := false
	for i := 0; i < 7; i++ {
		// Update + record merge: weight 2.
		op := clickOp("user-42", i)
		op.Update = &ContactUpdate{OptInConfirmed: &optIn, LastModified: &now}
		require.NoError(t, batch.Add(ctx, op))
	}
	require.NoError(t, batch.Flush(ctx))

	// 7 ops of weight 2 against a limit of 10: chunks of 10 and 4.
	assert.Equal(t, []int{10, 4}, weights)
}

func TestBatchSkipsEmptyOps(t *testing.T) {
	ctx := context.Background()
	batch := NewBatch(0, func(ctx context.Context, ops []Op) error {
		t.Fatal("commit should not run for empty ops")
		return nil
	})

	require.NoError(t, batch.Add(ctx, Op{UserID: "user-42"}))
	require.NoError(t, batch.Flush(ctx))
	assert.Equal(t, 0, batch.Commits())
}

func TestBatchStopsOnCommitError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("commit failed")

	batch := NewBatch(2, func(ctx context.Context, ops []Op) error {
		return boom
	})

	require.NoError(t, batch.Add(ctx, clickOp("user-42", 0)))
	require.NoError(t, batch.Add(ctx, clickOp("user-42", 1)))

	// The third add forces a flush, which fails.
	err := batch.Add(ctx, clickOp("user-42", 2))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, batch.Commits())
}

func TestBatchLimitClampedToCeiling(t *testing.T) {
	batch := NewBatch(5000, nil)
	assert.Equal(t, DefaultBatchLimit, batch.limit)
}

func TestMemoryEnforcesCommitCeiling(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.CommitLimit = hardOpCeiling
	mem.Put(&domain.Contact{ID: "user-42", Email: "jane@example.com"})

	ops := make([]Op, hardOpCeiling+1)
	for i := range ops {
		ops[i] = clickOp("user-42", i)
	}
	assert.ErrorIs(t, mem.CommitOps(ctx, ops), ErrBatchTooLarge)
	assert.NoError(t, mem.CommitOps(ctx, ops[:hardOpCeiling]))
}
