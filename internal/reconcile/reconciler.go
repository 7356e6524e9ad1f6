// Package reconcile periodically re-checks payments that are still pending, so
// a client whose browser never came back from checkout is unlocked anyway.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/promptsmith/internal/models"
)

type PendingLister interface {
	ListPendingPayments(since int64) ([]models.Payment, error)
}

type Refresher interface {
	Refresh(ctx context.Context, clientID, paymentID string) (*models.PaymentStatusResponse, error)
}

type Reconciler struct {
	store     PendingLister
	flow      Refresher
	maxAge    time.Duration
	timeout   time.Duration
	now       func() time.Time
	scheduler *gocron.Scheduler
}

// New returns a Reconciler that looks at pending payments younger than maxAge.
func New(store PendingLister, flow Refresher, maxAge time.Duration) *Reconciler {
	return &Reconciler{
		store:   store,
		flow:    flow,
		maxAge:  maxAge,
		timeout: time.Minute,
		now:     time.Now,
	}
}

// RunOnce refreshes every pending payment and returns how many of them
// succeeded. Errors on single payments are logged and skipped.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	since := r.now().Add(-r.maxAge).Unix()
	pending, err := r.store.ListPendingPayments(since)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, p := range pending {
		resp, err := r.flow.Refresh(ctx, p.ClientID, p.ID)
		if err != nil {
			logger.Error.Printf("Failed to reconcile payment %s: %v", p.ID, err)
			continue
		}
		if resp.Paid {
			settled++
		}
	}

	if len(pending) > 0 {
		logger.Debug.Printf("Reconciled %d pending payments, %d succeeded", len(pending), settled)
	}
	return settled, nil
}

// Start runs RunOnce on the given cron schedule in the background.
func (r *Reconciler) Start(schedule string) error {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Cron(schedule).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Error.Printf("Payment reconciliation failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	r.scheduler = scheduler
	scheduler.StartAsync()
	logger.Info.Printf("Payment reconciliation scheduled: %s", schedule)
	return nil
}

func (r *Reconciler) Stop() {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
}
