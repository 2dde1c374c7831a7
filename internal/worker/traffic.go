package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/merdocx/veilbot-sub000/internal/cache"
	"github.com/merdocx/veilbot-sub000/internal/models"
	"github.com/merdocx/veilbot-sub000/internal/notify"
	"github.com/merdocx/veilbot-sub000/internal/store"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// Enforcer polls per-key traffic counters and applies the two-stage
// warn/disable policy. Only V2Ray servers expose per-user counters.
type Enforcer struct {
	store       store.Store
	prov        *Provisioner
	notifier    notify.Notifier
	invalidator cache.Invalidator
	grace       time.Duration
	now         func() time.Time
}

func NewEnforcer(st store.Store, prov *Provisioner, n notify.Notifier, inv cache.Invalidator, grace time.Duration) *Enforcer {
	return &Enforcer{
		store:       st,
		prov:        prov,
		notifier:    n,
		invalidator: inv,
		grace:       grace,
		now:         time.Now,
	}
}

type pendingNotice struct {
	userID int64
	text   string
}

// Run executes one enforcement pass: poll counters, overwrite stored usage
// with the absolute values, aggregate per subscription, enforce limits.
// Overwriting an authoritative absolute counter is idempotent, so overlapping
// runs cannot double-count.
func (e *Enforcer) Run(ctx context.Context) error {
	now := e.now()

	subs, err := e.store.ActiveSubscriptions(ctx, now)
	if err != nil {
		return err
	}

	subIDs := make([]uint, 0, len(subs))
	for _, sub := range subs {
		subIDs = append(subIDs, sub.ID)
	}

	keys, err := e.store.KeysForSubscriptions(ctx, models.ProtocolV2Ray, subIDs)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		polled   []store.KeyUsage
		totals   = make(map[uint]int64)
		hasKeys  = make(map[uint]bool)
		failures int
	)

	var wg sync.WaitGroup
	for _, key := range keys {
		hasKeys[key.SubscriptionID] = true
		wg.Add(1)
		go func(key store.KeyView) {
			defer wg.Done()
			bytes, err := e.pollKey(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Fall back to the last stored value for aggregation.
				log.Printf("Failed to poll traffic for key %d (server %d): %v", key.ID, key.ServerID, err)
				totals[key.SubscriptionID] += key.UsageBytes
				failures++
				return
			}
			polled = append(polled, store.KeyUsage{KeyID: key.ID, Bytes: bytes})
			totals[key.SubscriptionID] += bytes
		}(key)
	}
	wg.Wait()

	if err := e.store.UpdateKeyUsage(ctx, polled); err != nil {
		return err
	}

	var (
		usageUpdates []store.SubscriptionUsage
		flagUpdates  []store.SubscriptionFlags
		notices      []pendingNotice
	)

	for _, sub := range subs {
		if !hasKeys[sub.ID] {
			continue
		}
		total := totals[sub.ID]
		usageUpdates = append(usageUpdates, store.SubscriptionUsage{SubscriptionID: sub.ID, Bytes: total})

		if sub.TrafficLimitBytes == 0 {
			continue // unlimited
		}

		if total > sub.TrafficLimitBytes {
			flags, notice := e.enforceOverLimit(ctx, sub, total, now)
			if flags != nil {
				flagUpdates = append(flagUpdates, *flags)
			}
			notices = append(notices, notice...)
		} else if sub.TrafficOverLimitAt != nil || sub.TrafficWarnSent || sub.TrafficDisableSent {
			// Usage dropped back under the limit: self-heal.
			flagUpdates = append(flagUpdates, store.SubscriptionFlags{SubscriptionID: sub.ID})
		}
	}

	if err := e.store.UpdateSubscriptionUsage(ctx, usageUpdates); err != nil {
		return err
	}
	if err := e.store.UpdateSubscriptionFlags(ctx, flagUpdates); err != nil {
		return err
	}

	// Side effects last, never inside a transaction.
	for _, n := range notices {
		e.notifier.Notify(ctx, n.userID, n.text)
	}

	log.Printf("Traffic enforcement done: keys=%d subscriptions=%d failures=%d",
		len(keys), len(usageUpdates), failures)
	return nil
}

func (e *Enforcer) pollKey(ctx context.Context, key store.KeyView) (int64, error) {
	client, err := e.prov.clients.Client(key.Server)
	if err != nil {
		return 0, err
	}

	if err := e.prov.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer e.prov.sem.Release(1)

	bytes, err := client.Traffic(ctx, key.NativeID)
	if errors.Is(err, vpn.ErrUnsupported) {
		return key.UsageBytes, nil
	}
	return bytes, err
}

// enforceOverLimit applies the warn/disable stages to one over-limit
// subscription and returns the flag update plus any queued notifications.
func (e *Enforcer) enforceOverLimit(ctx context.Context, sub models.Subscription, total int64, now time.Time) (*store.SubscriptionFlags, []pendingNotice) {
	overAt := sub.TrafficOverLimitAt
	warnSent := sub.TrafficWarnSent
	disableSent := sub.TrafficDisableSent

	if overAt == nil {
		t := now
		overAt = &t
	}

	var notices []pendingNotice
	if !warnSent {
		remaining := overAt.Add(e.grace).Sub(now).Round(time.Minute)
		notices = append(notices, pendingNotice{
			userID: sub.UserID,
			text: fmt.Sprintf("⚠️ Вы превысили лимит трафика (%d МБ из %d МБ). Доступ будет отключен через %s, если трафик не снизится.",
				total/1024/1024, sub.TrafficLimitBytes/1024/1024, remaining),
		})
		warnSent = true
	}

	if !disableSent && !now.Before(overAt.Add(e.grace)) {
		if _, failed := e.prov.removeSubscriptionKeys(ctx, sub.ID); failed > 0 {
			log.Printf("Disable of subscription %d: %d key deletions failed", sub.ID, failed)
		}
		if err := e.store.DeactivateSubscription(ctx, sub.ID); err != nil {
			log.Printf("Failed to deactivate subscription %d: %v", sub.ID, err)
		} else {
			e.invalidator.Invalidate(ctx, sub.Token)
			notices = append(notices, pendingNotice{
				userID: sub.UserID,
				text:   "❌ Лимит трафика превышен, доступ к VPN отключен. Обратитесь в поддержку или купите новую подписку.",
			})
			disableSent = true
		}
	}

	if overAt == sub.TrafficOverLimitAt && warnSent == sub.TrafficWarnSent && disableSent == sub.TrafficDisableSent {
		return nil, notices
	}
	return &store.SubscriptionFlags{
		SubscriptionID:     sub.ID,
		TrafficOverLimitAt: overAt,
		WarnSent:           warnSent,
		DisableSent:        disableSent,
	}, notices
}
