package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/merdocx/veilbot-sub000/internal/cache"
	"github.com/merdocx/veilbot-sub000/internal/notify"
	"github.com/merdocx/veilbot-sub000/internal/store"
)

// Sweeper warns about upcoming expiries and hard-deletes subscriptions past
// the grace period, remote credentials first.
type Sweeper struct {
	store       store.Store
	prov        *Provisioner
	notifier    notify.Notifier
	invalidator cache.Invalidator
	grace       time.Duration
	warnWindow  time.Duration
	exempt      map[int64]bool // user ids never swept
	now         func() time.Time
}

func NewSweeper(st store.Store, prov *Provisioner, n notify.Notifier, inv cache.Invalidator, grace time.Duration, exemptUsers []int64) *Sweeper {
	exempt := make(map[int64]bool, len(exemptUsers))
	for _, id := range exemptUsers {
		exempt[id] = true
	}
	return &Sweeper{
		store:       st,
		prov:        prov,
		notifier:    n,
		invalidator: inv,
		grace:       grace,
		warnWindow:  24 * time.Hour,
		exempt:      exempt,
		now:         time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	now := s.now()

	if err := s.warnExpiring(ctx, now); err != nil {
		log.Printf("Expiry warnings failed: %v", err)
	}

	expired, err := s.store.ExpiredSubscriptions(ctx, now.Add(-s.grace))
	if err != nil {
		return err
	}

	var notices []pendingNotice
	swept := 0
	for _, sub := range expired {
		if s.exempt[sub.UserID] {
			continue
		}

		// Remote credentials first. Failures are logged and do not block
		// local cleanup; the orphan sweep heals remote leftovers next cycle.
		if _, failed := s.prov.removeSubscriptionKeys(ctx, sub.ID); failed > 0 {
			log.Printf("Sweep of subscription %d: %d key deletions failed", sub.ID, failed)
		}

		if err := s.store.DeleteSubscription(ctx, sub.ID); err != nil {
			log.Printf("Failed to delete expired subscription %d: %v", sub.ID, err)
			continue
		}

		s.invalidator.Invalidate(ctx, sub.Token)
		notices = append(notices, pendingNotice{
			userID: sub.UserID,
			text:   "❌ Ваша подписка истекла и была удалена. Купите новую в меню 'Купить VPN'.",
		})
		swept++
	}

	for _, n := range notices {
		s.notifier.Notify(ctx, n.userID, n.text)
	}

	log.Printf("Expiry sweep done: swept=%d of %d expired", swept, len(expired))
	return nil
}

// warnExpiring notifies each subscription once, 24 hours before expiry.
func (s *Sweeper) warnExpiring(ctx context.Context, now time.Time) error {
	subs, err := s.store.ExpiringSubscriptions(ctx, now, now.Add(s.warnWindow))
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	if err := s.store.MarkExpiryNotified(ctx, ids); err != nil {
		return err
	}

	for _, sub := range subs {
		expires := time.Unix(sub.ExpiresAt, 0)
		s.notifier.Notify(ctx, sub.UserID, fmt.Sprintf(
			"⚠️ Ваша подписка истекает %s. Продлите её, чтобы не потерять доступ.",
			expires.Format("02.01.2006 15:04")))
	}
	return nil
}
