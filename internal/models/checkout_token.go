package models

// CheckoutToken links a one-time checkout reference to a user without
// sending the user's public key to the payment provider.
type CheckoutToken struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Token   string `gorm:"type:varchar(64);not null;uniqueIndex"` // Random client reference id.
	Pubkey  string `gorm:"type:varchar(64);not null"`             // Signing key the checkout belongs to.
	Domain  string `gorm:"type:varchar(255);not null"`            // Instance domain.
	SubTime int64  `gorm:"not null;default:0"`                    // Epoch ms when the checkout completed, 0 while pending.
}
