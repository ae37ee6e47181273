package models

import (
	"time"
)

type User struct {
	ID          uint   `gorm:"primaryKey"`
	Username    string `gorm:"size:100;not null;uniqueIndex"`
	Email       string `gorm:"size:255;not null;uniqueIndex"`
	Password    string `gorm:"size:255;not null"`
	FullName    string `gorm:"size:255;not null"`
	Role        string `gorm:"size:50;default:'customer'"`
	IsCertified bool   `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Product struct {
	ID            uint   `gorm:"primaryKey"`
	Name          string `gorm:"size:255;not null"`
	Category      string `gorm:"size:100;not null;index"` // 'Robot', 'Accessory', 'Spare Part'
	Price         int64  `gorm:"not null"`
	Description   string
	ImageURL      string `gorm:"size:500"`
	IsAvailable   bool   `gorm:"default:true;index"`
	StockQuantity int    `gorm:"default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Robot struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:255;not null"`
	Model           string `gorm:"size:100"`
	ModelType       string `gorm:"size:100"`                        // 'CleanBot', 'Vision AI'
	Status          string `gorm:"size:50;default:'offline';index"` // 'active', 'reserved', 'charging', 'maintenance', 'offline'
	BatteryLevel    int    `gorm:"default:100"`
	Location        string `gorm:"size:255"`
	FirmwareVersion string `gorm:"size:50"`
	OwnerID         *uint  `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Booking struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       uint      `gorm:"not null;index"`
	RobotID      *uint     // set for rentals
	ProductID    *uint     // set for purchases
	BookingType  string    `gorm:"size:50;not null;index"` // 'rental' or 'purchase'
	StartDate    time.Time `gorm:"not null"`
	EndDate      *time.Time
	DurationDays *int
	Location     string `gorm:"size:255"`
	Status       string `gorm:"size:50;default:'pending';index"` // 'pending', 'confirmed', 'active', 'completed', 'cancelled'
	TotalCost    int64  `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	User User `gorm:"constraint:OnDelete:CASCADE"`
}

type Payment struct {
	ID            uint   `gorm:"primaryKey"`
	BookingID     uint   `gorm:"not null;index"`
	Amount        int64  `gorm:"not null"`
	Method        string `gorm:"size:50;not null"` // 'credit-card', 'e-wallet', 'bank-transfer'
	Status        string `gorm:"size:50;default:'pending';index"`
	PaidAt        *time.Time
	TransactionID string `gorm:"size:255;uniqueIndex"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Booking Booking `gorm:"constraint:OnDelete:CASCADE"`
}

type CertificationModule struct {
	ID              uint   `gorm:"primaryKey"`
	ModuleNumber    int    `gorm:"not null;uniqueIndex"`
	Title           string `gorm:"size:255;not null"`
	DurationMinutes int
	Description     string
	OrderIndex      int `gorm:"not null"`
	CreatedAt       time.Time
}

type UserCertificationProgress struct {
	ID                 uint `gorm:"primaryKey"`
	UserID             uint `gorm:"not null;uniqueIndex:idx_user_module"`
	ModuleID           uint `gorm:"not null;uniqueIndex:idx_user_module"`
	ProgressPercentage int  `gorm:"default:0;check:progress_percentage >= 0 AND progress_percentage <= 100"`
	Completed          bool `gorm:"default:false"`
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	User   User                `gorm:"constraint:OnDelete:CASCADE"`
	Module CertificationModule `gorm:"foreignKey:ModuleID;constraint:OnDelete:CASCADE"`
}

type Certificate struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"not null;index"`
	CertType   string    `gorm:"size:100;not null"`
	IssuedDate time.Time `gorm:"not null"`
	ExpiryDate *time.Time
	Status     string `gorm:"size:50;default:'active';index"` // 'active', 'expired', 'revoked'
	CertNumber string `gorm:"size:100;uniqueIndex"`
	CreatedAt  time.Time

	User User `gorm:"constraint:OnDelete:CASCADE"`
}
