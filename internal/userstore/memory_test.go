package userstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/domain"
)

func TestMemorySetContactIDIsConditional(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Put(&domain.Contact{ID: "user-42", Email: "jane@example.com"})

	require.NoError(t, mem.SetContactID(ctx, "user-42", "sg-first"))
	// A redelivered backfill must not overwrite the stored id.
	require.NoError(t, mem.SetContactID(ctx, "user-42", "sg-second"))

	c, err := mem.GetByID(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, "sg-first", c.ContactID)
	assert.NotNil(t, c.ContactCreatedAt)

	assert.ErrorIs(t, mem.SetContactID(ctx, "ghost", "sg-x"), ErrNotFound)
}

func TestMemoryRemoveListsIsDifferenceNotReplace(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Put(&domain.Contact{
		ID:           "user-42",
		Email:        "jane@example.com",
		ContactLists: []domain.ListID{"list-a", "list-b", "list-c"},
	})

	require.NoError(t, mem.RemoveLists(ctx, "user-42", []domain.ListID{"list-b", "list-x"}))

	c, err := mem.GetByID(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, []domain.ListID{"list-a", "list-c"}, c.ContactLists)
}

func TestMemoryApplyUpdateGroupAndListLockstep(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Put(&domain.Contact{
		ID:           "user-42",
		Email:        "jane@example.com",
		ContactLists: []domain.ListID{"list-a", "list-b"},
	})

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	err := mem.CommitOps(ctx, []Op{{
		UserID: "user-42",
		Update: &ContactUpdate{
			SetGroupUnsubscribes: map[domain.GroupID]*domain.UnsubscribeRecord{
				14021: {UnsubscribeTimestamp: ts, GroupID: 14021},
			},
			RemoveLists:  []domain.ListID{"list-a"},
			LastModified: &ts,
		},
	}})
	require.NoError(t, err)

	c, err := mem.GetByID(ctx, "user-42")
	require.NoError(t, err)
	require.Contains(t, c.GroupUnsubscribes, domain.GroupID(14021))
	assert.Equal(t, ts, c.GroupUnsubscribes[14021].UnsubscribeTimestamp)
	assert.False(t, c.HasList("list-a"))
	assert.True(t, c.HasList("list-b"))
	assert.Equal(t, ts, c.LastModified)

	// Resubscribe clears the group key and restores the list, once.
	optIn := true
	err = mem.CommitOps(ctx, []Op{{
		UserID: "user-42",
		Update: &ContactUpdate{
			ClearGroupUnsubscribes: []domain.GroupID{14021},
			OptInConfirmed:         &optIn,
			AddLists:               []domain.ListID{"list-a", "list-b"},
		},
	}})
	require.NoError(t, err)

	c, err = mem.GetByID(ctx, "user-42")
	require.NoError(t, err)
	assert.NotContains(t, c.GroupUnsubscribes, domain.GroupID(14021))
	assert.Equal(t, []domain.ListID{"list-b", "list-a"}, c.ContactLists, "AddLists must not duplicate an existing membership")
}

func TestMemoryRecordMergeAccumulatesClicks(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Put(&domain.Contact{ID: "user-42", Email: "jane@example.com"})

	// All three clicks share one provider timestamp; the synthesized keys
	// still differ, so no entry is overwritten.
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Unix()
	for i := 0; i < 3; i++ {
		err := mem.CommitOps(ctx, []Op{{
			UserID: "user-42",
			Record: &RecordMerge{
				MessageID:  "msg-1",
				Key:        domain.ClickKey(),
				Event:      domain.EmailEvent{Event: "click", Timestamp: at},
				ClickDelta: 1,
			},
		}})
		require.NoError(t, err)
	}

	rec := mem.Record("user-42", "msg-1")
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.ClickCount)
	assert.Len(t, rec.Events, 3, "each click keeps its own key")
}

func TestMemoryRecordMergePreservesOtherKeys(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	mem.Put(&domain.Contact{ID: "user-42", Email: "jane@example.com"})

	ops := []Op{
		{UserID: "user-42", Record: &RecordMerge{MessageID: "msg-1", Key: "delivered", Event: domain.EmailEvent{Event: "delivered"}}},
		{UserID: "user-42", Record: &RecordMerge{MessageID: "msg-1", Key: "unsubscribe", Event: domain.EmailEvent{Event: "unsubscribe"}}},
	}
	require.NoError(t, mem.CommitOps(ctx, ops))

	rec := mem.Record("user-42", "msg-1")
	require.NotNil(t, rec)
	assert.Contains(t, rec.Events, "delivered")
	assert.Contains(t, rec.Events, "unsubscribe")
	assert.Equal(t, 0, rec.ClickCount)
}

func TestMemoryCounts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	now := time.Now()

	mem.Put(&domain.Contact{ID: "u1", Email: "a@example.com", OptInConfirmed: true})
	mem.Put(&domain.Contact{ID: "u2", Email: "b@example.com", OptInConfirmed: true})
	mem.Put(&domain.Contact{ID: "u3", Email: "c@example.com", OptOutTimestamp: &now})
	mem.Put(&domain.Contact{ID: "u4", Email: "d@example.com"})

	ins, err := mem.CountOptIns(ctx)
	require.NoError(t, err)
	outs, err := mem.CountOptOuts(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), ins)
	assert.Equal(t, int64(1), outs)
}
