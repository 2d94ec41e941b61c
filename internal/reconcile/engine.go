// Package reconcile keeps the local subscription rows in step with the
// payment provider: expiring rows past their end time, re-checking stale
// rows against the provider, and trimming seats after plan downgrades.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
	"github.com/padworks/accounts/internal/provider"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// staleness is how long a provider check stays fresh.
const staleness = 24 * time.Hour

// Engine runs the periodic reconciliation pass.
type Engine struct {
	db       *gorm.DB
	provider provider.Client
	plans    plans.Table
	interval time.Duration

	kick chan struct{}

	// now is replaceable in tests. Epoch milliseconds.
	now func() int64
}

// New constructs an Engine ticking at the given interval.
func New(db *gorm.DB, client provider.Client, table plans.Table, interval time.Duration) *Engine {
	return &Engine{
		db:       db,
		provider: client,
		plans:    table,
		interval: interval,
		kick:     make(chan struct{}, 1),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the engine clock; for tests.
func (e *Engine) WithClock(now func() int64) *Engine {
	e.now = now
	return e
}

// Kick requests an immediate pass. Safe from any goroutine; coalesces
// when a request is already pending.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Start runs the reconciliation loop until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		e.runOnce(ctx)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-e.kick:
			}
			e.runOnce(ctx)
		}
	}()
}

func (e *Engine) runOnce(ctx context.Context) {
	if err := e.RunOnce(ctx); err != nil {
		log.WithError(err).Error("reconcile: pass failed")
	}
}

// RunOnce performs one full pass: expiry sweep, provider sync, seat
// correction for rewritten plans.
func (e *Engine) RunOnce(ctx context.Context) error {
	if err := e.sweepExpired(ctx); err != nil {
		return err
	}
	return e.syncStale(ctx)
}

// sweepExpired closes enabled rows whose end time has passed, and the
// seats hanging off them.
func (e *Engine) sweepExpired(ctx context.Context) error {
	nowMs := e.now()

	var expired []uint64
	if errFind := e.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("end_time > 0 AND end_time < ?", nowMs).
		Pluck("id", &expired).Error; errFind != nil {
		return errFind
	}

	q := e.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status IN ?", models.EnabledStatuses)
	if len(expired) > 0 {
		q = q.Where("plan_added IN ? OR (end_time > 0 AND end_time < ?)", expired, nowMs)
	} else {
		q = q.Where("end_time > 0 AND end_time < ?", nowMs)
	}
	res := q.Update("status", models.StatusCanceled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Infof("reconcile: expired %d subscription rows", res.RowsAffected)
	}
	return nil
}

// syncStale re-checks every provider-backed root row whose watermark is
// older than the staleness window. Failures are isolated per row.
func (e *Engine) syncStale(ctx context.Context) error {
	cutoff := (e.now() - staleness.Milliseconds()) / 1000

	var rows []models.Subscription
	if errFind := e.db.WithContext(ctx).
		Where("status IN ? OR status IS NULL OR status = ''", models.EnabledStatuses).
		Where("last_checked_stripe < ?", cutoff).
		Where("admin_added = ?", false).
		Where("plan_added = ?", 0).
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	for i := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := e.syncRow(ctx, &rows[i]); err != nil {
			log.WithError(err).Errorf("reconcile: sync row %d failed", rows[i].ID)
		}
	}
	return nil
}

func (e *Engine) syncRow(ctx context.Context, row *models.Subscription) error {
	sub, errGet := e.provider.GetSubscription(ctx, row.Transaction)
	if errGet != nil {
		return errGet
	}

	plan := row.Plan
	if !e.planMatches(plan, sub.PriceID) {
		log.Warnf("reconcile: plan mismatch on row %d (%s vs price %s)", row.ID, row.Plan, sub.PriceID)
		plan = e.plans.FromPrice(sub.PriceID)
	}

	endTime := row.EndTime
	if !enabledStatus(sub.Status) {
		at := sub.CurrentPeriodStart
		if at.IsZero() {
			at = sub.CanceledAt
		}
		endTime = at.UnixMilli()
	}

	email := row.Email
	if email == "" && row.Customer != "" {
		customer, errCust := e.provider.GetCustomer(ctx, row.Customer)
		if errCust != nil {
			return errCust
		}
		email = customer.Email
	}

	snapshot, errSnap := json.Marshal(sub)
	if errSnap != nil {
		return errSnap
	}

	if errUpdate := e.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"plan":                plan,
			"status":              sub.Status,
			"email":               email,
			"end_time":            endTime,
			"last_checked_stripe": e.now() / 1000,
			"provider_state":      datatypes.JSON(snapshot),
		}).Error; errUpdate != nil {
		return errUpdate
	}

	if plan != row.Plan {
		e.correctSeats(ctx, row.ID, plan)
	}
	return nil
}

// planMatches reports whether the provider price is the one belonging to
// the row's plan name including its billing period, so a base-name row
// billed at the yearly price counts as a mismatch and gets rewritten.
func (e *Engine) planMatches(plan, priceID string) bool {
	def, ok := e.plans.Get(plan)
	if !ok {
		return false
	}
	if plans.IsYearly(plan) {
		return def.YearlyPriceID != "" && def.YearlyPriceID == priceID
	}
	return def.PriceID == priceID
}

// correctSeats cancels seats beyond the capacity of the row's new plan,
// keeping the oldest grants.
func (e *Engine) correctSeats(ctx context.Context, rootID uint64, plan string) {
	def, ok := e.plans.Get(plan)
	if !ok {
		return
	}
	allowed := def.Drives - 1
	if allowed < 0 {
		allowed = 0
	}

	var seats []models.Subscription
	if errFind := e.db.WithContext(ctx).
		Where("plan_added = ? AND status = ?", rootID, models.StatusActive).
		Order("id").
		Find(&seats).Error; errFind != nil {
		log.WithError(errFind).Errorf("reconcile: list seats for %d failed", rootID)
		return
	}
	if len(seats) <= allowed {
		return
	}

	drop := make([]uint64, 0, len(seats)-allowed)
	for _, seat := range seats[allowed:] {
		drop = append(drop, seat.ID)
	}
	if errUpdate := e.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id IN ?", drop).
		Updates(map[string]any{
			"status":   models.StatusCanceled,
			"end_time": e.now(),
		}).Error; errUpdate != nil {
		log.WithError(errUpdate).Errorf("reconcile: trim seats for %d failed", rootID)
		return
	}
	log.Infof("reconcile: trimmed %d seats from root %d after plan change to %s", len(drop), rootID, plan)
}

func enabledStatus(status string) bool {
	for _, st := range models.EnabledStatuses {
		if status == st {
			return true
		}
	}
	return false
}
