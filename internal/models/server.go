package models

import (
	"time"
)

type Protocol string

const (
	ProtocolOutline Protocol = "outline"
	ProtocolV2Ray   Protocol = "v2ray"
)

// Protocols lists every protocol the reconciler manages keys for.
var Protocols = []Protocol{ProtocolOutline, ProtocolV2Ray}

type Server struct {
	ID                   uint     `gorm:"primaryKey"`
	Name                 string   `gorm:"size:255"`
	Protocol             Protocol `gorm:"size:32;not null;index"`
	Endpoint             string   `gorm:"size:512;not null"`
	CertSHA256           string   `gorm:"size:128"` // outline management cert fingerprint
	APIKey               string   `gorm:"size:255"` // v2ray panel key
	Active               bool     `gorm:"default:true;index"`
	AvailableForPurchase bool     `gorm:"default:true"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
