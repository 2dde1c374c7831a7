package models

import (
	"time"
)

type Subscription struct {
	ID                 uint   `gorm:"primaryKey"`
	UserID             int64  `gorm:"not null;index"`
	Token              string `gorm:"size:64;uniqueIndex"`
	TariffID           uint   `gorm:"index"`
	ExpiresAt          int64  `gorm:"not null;index"` // unix seconds
	IsActive           bool   `gorm:"default:true;index"`
	TrafficLimitBytes  int64  `gorm:"default:0"` // 0 = unlimited
	TrafficUsageBytes  int64  `gorm:"default:0"` // cached aggregate across keys
	TrafficOverLimitAt *time.Time
	ExpiryNotified     bool `gorm:"default:false"`
	TrafficWarnSent    bool `gorm:"default:false"`
	TrafficDisableSent bool `gorm:"default:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
