package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/merdocx/veilbot-sub000/internal/models"
)

// GormStore implements Store on top of the shared *gorm.DB handle.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) ActiveSubscriptions(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.DB.WithContext(ctx).
		Where("is_active = ? AND expires_at > ?", true, now.Unix()).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active subscriptions: %w", err)
	}
	return subs, nil
}

func (s *GormStore) ExpiringSubscriptions(ctx context.Context, from, to time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.DB.WithContext(ctx).
		Where("is_active = ? AND expiry_notified = ? AND expires_at BETWEEN ? AND ?",
			true, false, from.Unix(), to.Unix()).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load expiring subscriptions: %w", err)
	}
	return subs, nil
}

func (s *GormStore) ExpiredSubscriptions(ctx context.Context, before time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.DB.WithContext(ctx).
		Where("expires_at < ?", before.Unix()).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load expired subscriptions: %w", err)
	}
	return subs, nil
}

func (s *GormStore) ActiveServers(ctx context.Context) ([]models.Server, error) {
	var servers []models.Server
	err := s.DB.WithContext(ctx).Where("active = ?", true).Find(&servers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active servers: %w", err)
	}
	return servers, nil
}

func (s *GormStore) KeysForSubscriptions(ctx context.Context, protocol models.Protocol, subIDs []uint) ([]KeyView, error) {
	if len(subIDs) == 0 {
		return nil, nil
	}
	return s.loadKeys(ctx, protocol, "subscription_id IN ?", subIDs)
}

func (s *GormStore) KeysForServer(ctx context.Context, protocol models.Protocol, serverID uint) ([]KeyView, error) {
	return s.loadKeys(ctx, protocol, "server_id = ?", serverID)
}

func (s *GormStore) loadKeys(ctx context.Context, protocol models.Protocol, cond string, arg interface{}) ([]KeyView, error) {
	db := s.DB.WithContext(ctx)

	var views []KeyView
	switch protocol {
	case models.ProtocolOutline:
		var keys []models.OutlineKey
		if err := db.Where(cond, arg).Find(&keys).Error; err != nil {
			return nil, fmt.Errorf("failed to load outline keys: %w", err)
		}
		for _, k := range keys {
			views = append(views, KeyView{
				ID:             k.ID,
				Protocol:       protocol,
				SubscriptionID: k.SubscriptionID,
				ServerID:       k.ServerID,
				NativeID:       k.KeyID,
			})
		}
	case models.ProtocolV2Ray:
		var keys []models.V2RayKey
		if err := db.Where(cond, arg).Find(&keys).Error; err != nil {
			return nil, fmt.Errorf("failed to load v2ray keys: %w", err)
		}
		for _, k := range keys {
			views = append(views, KeyView{
				ID:             k.ID,
				Protocol:       protocol,
				SubscriptionID: k.SubscriptionID,
				ServerID:       k.ServerID,
				NativeID:       k.UUID,
				UsageBytes:     k.TrafficUsageBytes,
			})
		}
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}

	return s.attachServers(ctx, views)
}

// attachServers joins each view with its server record in one query.
func (s *GormStore) attachServers(ctx context.Context, views []KeyView) ([]KeyView, error) {
	if len(views) == 0 {
		return views, nil
	}

	ids := make([]uint, 0, len(views))
	seen := make(map[uint]bool)
	for _, v := range views {
		if !seen[v.ServerID] {
			seen[v.ServerID] = true
			ids = append(ids, v.ServerID)
		}
	}

	var servers []models.Server
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to load key servers: %w", err)
	}

	byID := make(map[uint]models.Server, len(servers))
	for _, srv := range servers {
		byID[srv.ID] = srv
	}
	for i := range views {
		views[i].Server = byID[views[i].ServerID]
	}
	return views, nil
}

func (s *GormStore) InsertKey(ctx context.Context, key NewKey) (bool, error) {
	db := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "server_id"}, {Name: "subscription_id"}},
		DoNothing: true,
	})

	var res *gorm.DB
	switch key.Protocol {
	case models.ProtocolOutline:
		res = db.Create(&models.OutlineKey{
			SubscriptionID: key.SubscriptionID,
			ServerID:       key.ServerID,
			KeyID:          key.NativeID,
			AccessURL:      key.AccessURL,
		})
	case models.ProtocolV2Ray:
		res = db.Create(&models.V2RayKey{
			SubscriptionID: key.SubscriptionID,
			ServerID:       key.ServerID,
			UUID:           key.NativeID,
		})
	default:
		return false, fmt.Errorf("unknown protocol %q", key.Protocol)
	}

	if res.Error != nil {
		return false, fmt.Errorf("failed to insert %s key: %w", key.Protocol, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) DeleteKey(ctx context.Context, protocol models.Protocol, keyID uint) error {
	db := s.DB.WithContext(ctx)

	var err error
	switch protocol {
	case models.ProtocolOutline:
		err = db.Delete(&models.OutlineKey{}, keyID).Error
	case models.ProtocolV2Ray:
		err = db.Delete(&models.V2RayKey{}, keyID).Error
	default:
		return fmt.Errorf("unknown protocol %q", protocol)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s key %d: %w", protocol, keyID, err)
	}
	return nil
}

func (s *GormStore) UpdateKeyUsage(ctx context.Context, updates []KeyUsage) error {
	if len(updates) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Model(&models.V2RayKey{}).
				Where("id = ?", u.KeyID).
				Update("traffic_usage_bytes", u.Bytes).Error; err != nil {
				return fmt.Errorf("failed to update usage for key %d: %w", u.KeyID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) UpdateSubscriptionUsage(ctx context.Context, updates []SubscriptionUsage) error {
	if len(updates) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			if err := tx.Model(&models.Subscription{}).
				Where("id = ?", u.SubscriptionID).
				Update("traffic_usage_bytes", u.Bytes).Error; err != nil {
				return fmt.Errorf("failed to update usage for subscription %d: %w", u.SubscriptionID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) UpdateSubscriptionFlags(ctx context.Context, updates []SubscriptionFlags) error {
	if len(updates) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			fields := map[string]interface{}{
				"traffic_over_limit_at": u.TrafficOverLimitAt,
				"traffic_warn_sent":     u.WarnSent,
				"traffic_disable_sent":  u.DisableSent,
			}
			if err := tx.Model(&models.Subscription{}).
				Where("id = ?", u.SubscriptionID).
				Updates(fields).Error; err != nil {
				return fmt.Errorf("failed to update flags for subscription %d: %w", u.SubscriptionID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) MarkExpiryNotified(ctx context.Context, subIDs []uint) error {
	if len(subIDs) == 0 {
		return nil
	}
	err := s.DB.WithContext(ctx).Model(&models.Subscription{}).
		Where("id IN ?", subIDs).
		Update("expiry_notified", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark expiry notified: %w", err)
	}
	return nil
}

func (s *GormStore) DeactivateSubscription(ctx context.Context, subID uint) error {
	err := s.DB.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ?", subID).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription %d: %w", subID, err)
	}
	return nil
}

func (s *GormStore) DeleteSubscription(ctx context.Context, subID uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", subID).Delete(&models.OutlineKey{}).Error; err != nil {
			return fmt.Errorf("failed to delete outline keys for subscription %d: %w", subID, err)
		}
		if err := tx.Where("subscription_id = ?", subID).Delete(&models.V2RayKey{}).Error; err != nil {
			return fmt.Errorf("failed to delete v2ray keys for subscription %d: %w", subID, err)
		}
		if err := tx.Delete(&models.Subscription{}, subID).Error; err != nil {
			return fmt.Errorf("failed to delete subscription %d: %w", subID, err)
		}
		return nil
	})
}
