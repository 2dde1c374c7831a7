package models

import (
	"time"
)

// One key table per protocol. The unique index on (server_id, subscription_id)
// backs the duplicate-safe insert the reconciler relies on.

type OutlineKey struct {
	ID             uint   `gorm:"primaryKey"`
	SubscriptionID uint   `gorm:"index;uniqueIndex:idx_outline_server_sub,priority:2"`
	ServerID       uint   `gorm:"not null;uniqueIndex:idx_outline_server_sub,priority:1"`
	KeyID          string `gorm:"size:64"` // outline access-key id
	AccessURL      string `gorm:"size:1024"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type V2RayKey struct {
	ID                uint   `gorm:"primaryKey"`
	SubscriptionID    uint   `gorm:"index;uniqueIndex:idx_v2ray_server_sub,priority:2"`
	ServerID          uint   `gorm:"not null;uniqueIndex:idx_v2ray_server_sub,priority:1"`
	UUID              string `gorm:"size:64"`
	TrafficUsageBytes int64  `gorm:"default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
