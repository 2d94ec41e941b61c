package models

// DPA is a data-processing agreement tied to one organization subscription.
type DPA struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubID      uint64 `gorm:"not null;uniqueIndex"` // Root subscription the agreement covers.
	Status     bool   `gorm:"not null;default:true"`
	CreateTime int64  `gorm:"not null"` // Epoch milliseconds.

	CompanyName     string `gorm:"type:varchar(255);not null"`
	CompanyUser     string `gorm:"type:varchar(255);not null"` // Representative name.
	CompanyLocation string `gorm:"type:varchar(255);not null"`
	CompanyID       string `gorm:"type:varchar(255);not null"` // Registration / VAT identifier.

	PDFID    string `gorm:"type:varchar(64);not null"` // Generated document id on local storage.
	SignedOn int64  `gorm:"default:0"`                 // Epoch ms of the signed upload, 0 while unsigned.
}

// Signed reports whether a signed copy of the agreement was uploaded.
func (d *DPA) Signed() bool { return d.SignedOn != 0 }
