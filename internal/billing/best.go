package billing

import (
	"context"
	"fmt"

	"github.com/padworks/accounts/internal/models"
	"github.com/padworks/accounts/internal/plans"
)

// Best is the subscription presented to a user who may appear in several
// enabled rows (own plan plus gifted seats).
type Best struct {
	Sub       models.Subscription
	Plan      string // Base plan name; for seats, the root's base plan.
	Yearly    bool
	Shared    bool
	AdminGift bool
	Owned     bool
}

// Seat describes one granted derived row of a root subscription.
type Seat struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// BestSubscription picks the strongest enabled row benefiting the key:
// owned rows beat gifted ones, larger quotas beat smaller ones. Returns
// nil without error when no enabled row exists.
func (s *Service) BestSubscription(ctx context.Context, pubkey, domain string) (*Best, error) {
	rows, err := s.EnabledSubscriptions(ctx, pubkey, domain)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var best *Best
	var bestQuota int64 = -1
	for i := range rows {
		row := rows[i]
		effective := row.Plan
		if plans.Base(row.Plan) == models.PlanShared {
			root, errRoot := s.subscriptionByID(ctx, row.PlanAdded)
			if errRoot != nil {
				return nil, errRoot
			}
			if root == nil {
				continue
			}
			effective = root.Plan
		}
		def, ok := s.Plans.Get(effective)
		if !ok {
			continue
		}
		owned := row.Pubkey == row.BenificiaryPubkey
		if !owned && best != nil && best.Owned {
			continue
		}
		if def.QuotaGiB < bestQuota {
			continue
		}
		bestQuota = def.QuotaGiB
		best = &Best{
			Sub:       row,
			Plan:      plans.Base(effective),
			Yearly:    plans.IsYearly(effective),
			Shared:    row.Plan == models.PlanShared,
			AdminGift: row.AdminAdded,
			Owned:     owned,
		}
	}
	return best, nil
}

// ExtraDrives lists the enabled seats attached to a root subscription,
// keyed by row id.
func (s *Service) ExtraDrives(ctx context.Context, rootID uint64) (map[uint64]Seat, error) {
	var rows []models.Subscription
	if errFind := s.DB.WithContext(ctx).
		Where("status IN ?", models.EnabledStatuses).
		Where("plan_added = ?", rootID).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("billing: list seats for %d: %w", rootID, errFind)
	}
	seats := make(map[uint64]Seat, len(rows))
	for _, row := range rows {
		seats[row.ID] = Seat{Name: row.BenificiaryUser, Key: row.BenificiaryPubkey}
	}
	return seats, nil
}

func (s *Service) subscriptionByID(ctx context.Context, id uint64) (*models.Subscription, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.Subscription
	errFind := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errFind != nil {
		if isNotFound(errFind) {
			return nil, nil
		}
		return nil, fmt.Errorf("billing: load subscription %d: %w", id, errFind)
	}
	return &row, nil
}
