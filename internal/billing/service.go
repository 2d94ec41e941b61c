// Package billing implements the subscription lifecycle operations shared
// by the command handlers and the provider webhook: the single-active
// invariant, the cancel-then-insert pipeline, and seat accounting.
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
	"github.com/padworks/accounts/internal/provider"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service bundles the store, the payment provider and the side effects an
// entitlement change has to trigger.
type Service struct {
	DB       *gorm.DB
	Provider provider.Client
	Plans    plans.Table

	// Notify fires the quota-refresh notification; may be nil.
	Notify func()
	// Kick requests an immediate reconciliation pass; may be nil.
	Kick func()

	// now is replaceable in tests. Epoch milliseconds.
	now func() int64
}

// NowMs returns the service clock in epoch milliseconds.
func (s *Service) NowMs() int64 {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UnixMilli()
}

// WithClock overrides the service clock; for tests.
func (s *Service) WithClock(now func() int64) *Service {
	s.now = now
	return s
}

func (s *Service) notify() {
	if s.Notify != nil {
		s.Notify()
	}
}

func (s *Service) kick() {
	if s.Kick != nil {
		s.Kick()
	}
}

// EnabledSubscriptions returns all enabled rows benefiting the given key
// on the given domain.
func (s *Service) EnabledSubscriptions(ctx context.Context, pubkey, domain string) ([]models.Subscription, error) {
	var rows []models.Subscription
	if errFind := s.DB.WithContext(ctx).
		Where("status IN ?", models.EnabledStatuses).
		Where("benificiary_domain = ? AND benificiary_pubkey = ?", domain, pubkey).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("billing: list enabled subscriptions: %w", errFind)
	}
	return rows, nil
}

// HasEnabledSubscription reports whether the beneficiary already holds an
// enabled subscription. Checked before every insert that grants one.
func (s *Service) HasEnabledSubscription(ctx context.Context, pubkey, domain string) (bool, error) {
	var count int64
	if errCount := s.DB.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status IN ?", models.EnabledStatuses).
		Where("benificiary_domain = ? AND benificiary_pubkey = ?", domain, pubkey).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("billing: count enabled subscriptions: %w", errCount)
	}
	return count > 0, nil
}

// CancelSubscription closes an enabled row. Derived and admin-granted rows
// end immediately; provider-backed rows are canceled at period end on the
// provider side and the local end time records that period end.
func (s *Service) CancelSubscription(ctx context.Context, sub *models.Subscription) error {
	endTime := s.NowMs()
	if !sub.Derived() && !sub.AdminAdded {
		periodEnd, err := s.Provider.CancelAtPeriodEnd(ctx, sub.Transaction)
		if err != nil {
			return fmt.Errorf("billing: provider cancel %s: %w", sub.Transaction, err)
		}
		endTime = periodEnd.UnixMilli()
	}
	if errUpdate := s.DB.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Update("end_time", endTime).Error; errUpdate != nil {
		return fmt.Errorf("billing: record cancellation %d: %w", sub.ID, errUpdate)
	}
	s.kick()
	return nil
}

// SubscribeParams describes a new root subscription to record.
type SubscribeParams struct {
	Domain            string
	Pubkey            string
	BenificiaryDomain string
	BenificiaryPubkey string
	BenificiaryUser   string
	GiftNote          string

	Plan       string // Empty when only the provider subscription id is known.
	Customer   string
	Transaction string
	IAT         int64
	Status      string
	AdminAdded  bool
	EndTime     int64
}

// Subscribe records a new root subscription: resolves the plan from the
// provider when unset, cancels any enabled subscription the beneficiary
// already holds, inserts the row, and triggers the quota refresh.
func (s *Service) Subscribe(ctx context.Context, p SubscribeParams) (uint64, error) {
	if p.Plan == "" {
		if p.Transaction == "" {
			return 0, fmt.Errorf("billing: subscribe: missing plan and transaction")
		}
		sub, err := s.Provider.GetSubscription(ctx, p.Transaction)
		if err != nil {
			return 0, fmt.Errorf("billing: resolve plan: %w", err)
		}
		if sub.PriceID == "" {
			return 0, fmt.Errorf("billing: resolve plan: subscription %s has no price", p.Transaction)
		}
		p.Plan = s.Plans.FromPrice(sub.PriceID)
	}

	existing, err := s.EnabledSubscriptions(ctx, p.BenificiaryPubkey, p.BenificiaryDomain)
	if err != nil {
		return 0, err
	}
	for i := range existing {
		if errCancel := s.CancelSubscription(ctx, &existing[i]); errCancel != nil {
			// Keep going: the reconciliation pass will close the stale
			// row once its end time is corrected on the provider side.
			log.WithError(errCancel).Warnf("billing: cancel existing subscription %d failed", existing[i].ID)
		}
	}

	row := models.Subscription{
		Domain:            p.Domain,
		Pubkey:            p.Pubkey,
		BenificiaryDomain: p.BenificiaryDomain,
		BenificiaryPubkey: p.BenificiaryPubkey,
		BenificiaryUser:   p.BenificiaryUser,
		GiftNote:          p.GiftNote,
		Customer:          p.Customer,
		Transaction:       p.Transaction,
		IAT:               p.IAT,
		Status:            p.Status,
		AdminAdded:        p.AdminAdded,
		PlanAdded:         0,
		Plan:              p.Plan,
		LastCheckedStripe: 0,
		CreateTime:        s.NowMs(),
		EndTime:           p.EndTime,
	}
	if errCreate := s.DB.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return 0, fmt.Errorf("billing: insert subscription: %w", errCreate)
	}
	log.Infof("billing: subscription %d created (plan=%s beneficiary=%s)", row.ID, row.Plan, row.BenificiaryPubkey)

	s.kick()
	s.notify()
	return row.ID, nil
}

// ActiveSeatCount counts the active derived rows attached to a root.
func (s *Service) ActiveSeatCount(ctx context.Context, rootID uint64) (int64, error) {
	var count int64
	if errCount := s.DB.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("plan_added = ? AND status = ?", rootID, models.StatusActive).
		Count(&count).Error; errCount != nil {
		return 0, fmt.Errorf("billing: count seats for %d: %w", rootID, errCount)
	}
	return count, nil
}

// AddSeatParams describes a seat granted from a root's capacity.
type AddSeatParams struct {
	Root              *models.Subscription
	OwnerPubkey       string
	Domain            string
	BenificiaryDomain string
	BenificiaryPubkey string
	BenificiaryUser   string
	GiftNote          string
}

// AddSeat inserts a derived row against the root subscription. Callers
// must have validated capacity and the single-active invariant first; the
// read-then-write gap is healed by reconciliation's seat correction.
func (s *Service) AddSeat(ctx context.Context, p AddSeatParams) (uint64, error) {
	row := models.Subscription{
		Domain:            p.Domain,
		Pubkey:            p.OwnerPubkey,
		BenificiaryDomain: p.BenificiaryDomain,
		BenificiaryPubkey: p.BenificiaryPubkey,
		BenificiaryUser:   p.BenificiaryUser,
		GiftNote:          p.GiftNote,
		Customer:          models.SentinelAddToPlan,
		Transaction:       models.SentinelAddToPlan,
		Status:            models.StatusActive,
		PlanAdded:         p.Root.ID,
		Plan:              models.PlanShared,
		CreateTime:        s.NowMs(),
		EndTime:           p.Root.EndTime,
	}
	if errCreate := s.DB.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return 0, fmt.Errorf("billing: insert seat: %w", errCreate)
	}
	log.Infof("billing: seat %d added to root %d (beneficiary=%s)", row.ID, p.Root.ID, row.BenificiaryPubkey)

	s.kick()
	s.notify()
	return row.ID, nil
}

// MarkForResync clears the reconciliation watermark for all rows carrying
// the given provider subscription id and kicks the engine.
func (s *Service) MarkForResync(ctx context.Context, transaction string) error {
	if errUpdate := s.DB.WithContext(ctx).
		Model(&models.Subscription{}).
		Where(`"transaction" = ?`, transaction).
		Update("last_checked_stripe", 0).Error; errUpdate != nil {
		return fmt.Errorf("billing: mark for resync %s: %w", transaction, errUpdate)
	}
	s.kick()
	return nil
}
