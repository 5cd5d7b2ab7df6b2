// Package reconcile periodically compares opt-in/opt-out counts between the
// user store and the provider, and raises an alert on drift. The job is
// read-only against both stores; mismatches are surfaced for operator
// action, never remediated automatically.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/contact-sync/internal/channel"
	"github.com/ignite/contact-sync/internal/domain"
	"github.com/ignite/contact-sync/internal/userstore"
)

// ProviderCounts is the slice of the contact directory API the job needs.
// *sendgrid.Client satisfies it.
type ProviderCounts interface {
	TotalContactCount(ctx context.Context) (int64, error)
	GlobalSuppressionCount(ctx context.Context) (int64, error)
}

// Snapshot holds one run's counts from both stores. It is consumed for
// comparison and discarded, never persisted; RunID ties log lines and the
// trigger response to one pass.
type Snapshot struct {
	RunID              string `json:"run_id"`
	StoreOptIns        int64  `json:"store_opt_ins"`
	StoreOptOuts       int64  `json:"store_opt_outs"`
	ProviderTotal      int64  `json:"provider_total"`
	ProviderSuppressed int64  `json:"provider_suppressed"`
	ProviderNetOptIns  int64  `json:"provider_net_opt_ins"`
}

// Job computes and compares subscription counts across the two stores.
type Job struct {
	store      userstore.Repository
	provider   ProviderCounts
	pub        channel.Publisher
	alertTopic string
}

// NewJob creates a reconciliation job that publishes drift alerts on
// alertTopic (the same dispatch path user-facing notifications use).
func NewJob(store userstore.Repository, provider ProviderCounts, pub channel.Publisher, alertTopic string) *Job {
	return &Job{store: store, provider: provider, pub: pub, alertTopic: alertTopic}
}

// Run takes a snapshot of both stores and publishes exactly one alert if
// the provider's net opt-in count disagrees with the local one.
//
// The provider's raw total includes globally-suppressed contacts; the local
// opt-in count does not (a global unsubscribe always clears opt-in), so the
// comparable provider figure is total minus suppressions.
func (j *Job) Run(ctx context.Context) (*Snapshot, bool, error) {
	snap := &Snapshot{RunID: uuid.NewString()}
	var err error

	if snap.StoreOptIns, err = j.store.CountOptIns(ctx); err != nil {
		return nil, false, fmt.Errorf("reconcile: store opt-in count: %w", err)
	}
	if snap.StoreOptOuts, err = j.store.CountOptOuts(ctx); err != nil {
		return nil, false, fmt.Errorf("reconcile: store opt-out count: %w", err)
	}
	if snap.ProviderTotal, err = j.provider.TotalContactCount(ctx); err != nil {
		return nil, false, fmt.Errorf("reconcile: provider total: %w", err)
	}
	if snap.ProviderSuppressed, err = j.provider.GlobalSuppressionCount(ctx); err != nil {
		return nil, false, fmt.Errorf("reconcile: provider suppressions: %w", err)
	}
	snap.ProviderNetOptIns = snap.ProviderTotal - snap.ProviderSuppressed

	if snap.ProviderNetOptIns == snap.StoreOptIns {
		log.Printf("[Reconcile] Run %s in sync: %d opt-ins on both sides (provider %d total, %d suppressed)",
			snap.RunID, snap.StoreOptIns, snap.ProviderTotal, snap.ProviderSuppressed)
		return snap, false, nil
	}

	alert := domain.DriftAlert{
		StoreOptIns:        snap.StoreOptIns,
		ProviderNetOptIns:  snap.ProviderNetOptIns,
		ProviderTotal:      snap.ProviderTotal,
		ProviderSuppressed: snap.ProviderSuppressed,
		DetectedAt:         time.Now().UTC(),
	}
	if err := j.pub.Publish(ctx, j.alertTopic, alert); err != nil {
		return snap, false, fmt.Errorf("reconcile: publish drift alert: %w", err)
	}

	log.Printf("[Reconcile] Run %s DRIFT: store has %d opt-ins, provider nets %d (total %d - suppressed %d)",
		snap.RunID, snap.StoreOptIns, snap.ProviderNetOptIns, snap.ProviderTotal, snap.ProviderSuppressed)
	return snap, true, nil
}
