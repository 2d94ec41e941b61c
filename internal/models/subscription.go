package models

import (
	"gorm.io/datatypes"
)

// Subscription statuses that currently grant entitlement.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing" // Trial period added on the provider side.
	StatusPastDue  = "past_due" // Payment failed, provider keeps retrying.
	StatusCanceled = "canceled"
)

// EnabledStatuses is the set of statuses granting entitlement.
var EnabledStatuses = []string{StatusActive, StatusTrialing, StatusPastDue}

// Sentinel customer/transaction values for rows not backed by a payment.
const (
	SentinelAdmin     = "_admin_"
	SentinelAddToPlan = "_addToPlan_"
)

// PlanShared is the plan name recorded on derived (gifted seat) rows.
const PlanShared = "shared"

// Subscription is a paid, gifted or admin-granted entitlement row.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Domain string `gorm:"type:varchar(255);not null"` // Instance domain of the paying party.
	Pubkey string `gorm:"type:varchar(64);not null;index"` // Signing key of the paying/gifting party.

	BenificiaryPubkey string `gorm:"type:varchar(64);not null;index"` // Who the entitlement applies to.
	BenificiaryDomain string `gorm:"type:varchar(255);not null"`      // Beneficiary instance domain.
	BenificiaryUser   string `gorm:"type:varchar(255)"`               // Beneficiary display name.

	GiftNote string `gorm:"type:varchar(255)"` // Free-form note attached to gifts.

	Customer    string `gorm:"type:varchar(255);not null"`       // Provider customer id, or a sentinel.
	Transaction string `gorm:"type:varchar(255);not null;index"` // Provider subscription id, or a sentinel.
	IAT         int64  `gorm:"not null;default:0"`               // Issue timestamp from the provider event.

	Status string `gorm:"type:varchar(32)"`  // Provider status vocabulary.
	Email  string `gorm:"type:varchar(255)"` // Contact email, backfilled from the provider.

	AdminAdded bool   `gorm:"not null;default:false"`           // Created by operator override.
	PlanAdded  uint64 `gorm:"not null;default:0;index"`         // Root subscription id for derived rows, 0 for roots.
	Plan       string `gorm:"type:varchar(64)"`                 // Plan name, "12" suffix marks yearly billing.

	LastCheckedStripe int64 `gorm:"not null;default:0"` // Epoch seconds of the last reconciliation.
	CreateTime        int64 `gorm:"not null"`           // Epoch milliseconds.
	EndTime           int64 `gorm:"default:0"`          // Epoch milliseconds; in the past means expired.

	ProviderState datatypes.JSON `gorm:"type:jsonb"` // Snapshot of the provider record at last reconciliation.
}

// Enabled reports whether the row's status grants entitlement.
func (s *Subscription) Enabled() bool {
	for _, st := range EnabledStatuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// Derived reports whether the row is a seat granted from a root's capacity.
func (s *Subscription) Derived() bool { return s.PlanAdded != 0 }

// Expired reports whether the row's end time has passed at nowMs.
func (s *Subscription) Expired(nowMs int64) bool {
	return s.EndTime > 0 && s.EndTime < nowMs
}
