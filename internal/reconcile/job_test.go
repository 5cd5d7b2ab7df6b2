package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/contact-sync/internal/channel"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/userstore"
)

type fakeCounts struct {
	total      int64
	suppressed int64
	err        error
}

func (f fakeCounts) TotalContactCount(context.Context) (int64, error) {
	return f.total, f.err
}

func (f fakeCounts) GlobalSuppressionCount(context.Context) (int64, error) {
	return f.suppressed, f.err
}

func storeWithOptIns(n int) *userstore.Memory {
	m := userstore.NewMemory()
	for i := 0; i < n; i++ {
		m.Put(&domain.Contact{
			ID:             string(rune('a'+i/26)) + string(rune('a'+i%26)),
			Email:          "u@example.com",
			OptInConfirmed: true,
		})
	}
	return m
}

func TestRunInSyncPublishesNothing(t *testing.T) {
	ch := channel.NewInMem()
	job := NewJob(storeWithOptIns(100), fakeCounts{total: 105, suppressed: 5}, ch, "notifications")

	snap, drifted, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, drifted)
	assert.Equal(t, int64(100), snap.StoreOptIns)
	assert.Equal(t, int64(100), snap.ProviderNetOptIns)
	assert.Equal(t, 0, ch.Count("notifications"))
}

func TestRunDriftPublishesExactlyOneAlert(t *testing.T) {
	ch := channel.NewInMem()
	job := NewJob(storeWithOptIns(100), fakeCounts{total: 108, suppressed: 5}, ch, "notifications")

	snap, drifted, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, drifted)
	assert.Equal(t, int64(103), snap.ProviderNetOptIns)
	require.Equal(t, 1, ch.Count("notifications"))

	var alert domain.DriftAlert
	require.NoError(t, channel.Decode(ch.Published["notifications"][0], &alert))
	assert.Equal(t, int64(100), alert.StoreOptIns)
	assert.Equal(t, int64(103), alert.ProviderNetOptIns)
	assert.Equal(t, int64(108), alert.ProviderTotal)
	assert.Equal(t, int64(5), alert.ProviderSuppressed)
	assert.False(t, alert.DetectedAt.IsZero())
}

func TestRunProviderErrorAborts(t *testing.T) {
	ch := channel.NewInMem()
	job := NewJob(storeWithOptIns(1), fakeCounts{err: errors.New("provider down")}, ch, "notifications")

	_, _, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, ch.Count("notifications"), "no alert on an incomplete snapshot")
}
