package store

import (
	"context"
	"time"

	"github.com/merdocx/veilbot-sub000/internal/models"
)

// KeyView is a protocol-agnostic view of a key row joined with its server.
// The reconciler never touches the per-protocol tables directly.
type KeyView struct {
	ID             uint
	Protocol       models.Protocol
	SubscriptionID uint
	ServerID       uint
	NativeID       string
	UsageBytes     int64 // v2ray only
	Server         models.Server
}

// NewKey is the payload for a duplicate-safe key insert.
type NewKey struct {
	Protocol       models.Protocol
	SubscriptionID uint
	ServerID       uint
	NativeID       string
	AccessURL      string
}

// KeyUsage is one absolute usage sample for a key.
type KeyUsage struct {
	KeyID uint
	Bytes int64
}

// SubscriptionUsage is the aggregated usage write-back for a subscription.
type SubscriptionUsage struct {
	SubscriptionID uint
	Bytes          int64
}

// SubscriptionFlags carries the over-limit timestamp and notification stages.
type SubscriptionFlags struct {
	SubscriptionID     uint
	TrafficOverLimitAt *time.Time
	WarnSent           bool
	DisableSent        bool
}

// Store is the persistence contract for the reconciliation core.
type Store interface {
	ActiveSubscriptions(ctx context.Context, now time.Time) ([]models.Subscription, error)
	ExpiringSubscriptions(ctx context.Context, from, to time.Time) ([]models.Subscription, error)
	ExpiredSubscriptions(ctx context.Context, before time.Time) ([]models.Subscription, error)
	ActiveServers(ctx context.Context) ([]models.Server, error)

	KeysForSubscriptions(ctx context.Context, protocol models.Protocol, subIDs []uint) ([]KeyView, error)
	KeysForServer(ctx context.Context, protocol models.Protocol, serverID uint) ([]KeyView, error)

	// InsertKey inserts with ON CONFLICT DO NOTHING semantics on
	// (server_id, subscription_id) and reports whether the row landed.
	InsertKey(ctx context.Context, key NewKey) (bool, error)
	DeleteKey(ctx context.Context, protocol models.Protocol, keyID uint) error

	UpdateKeyUsage(ctx context.Context, updates []KeyUsage) error
	UpdateSubscriptionUsage(ctx context.Context, updates []SubscriptionUsage) error
	UpdateSubscriptionFlags(ctx context.Context, updates []SubscriptionFlags) error

	MarkExpiryNotified(ctx context.Context, subIDs []uint) error
	DeactivateSubscription(ctx context.Context, subID uint) error
	// DeleteSubscription hard-deletes the subscription and its key rows.
	DeleteSubscription(ctx context.Context, subID uint) error
}
