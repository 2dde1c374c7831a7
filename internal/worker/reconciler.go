package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/merdocx/veilbot-sub000/internal/cache"
	"github.com/merdocx/veilbot-sub000/internal/models"
	"github.com/merdocx/veilbot-sub000/internal/store"
)

const defaultBatchSize = 20

// ReconcileStats summarizes one reconciliation run.
type ReconcileStats struct {
	Created  int
	Deleted  int
	Orphans  int
	Failures int
}

// Reconciler converges remote key state to the desired set: one healthy key
// per (active non-expired subscription, active server of matching protocol).
type Reconciler struct {
	store       store.Store
	prov        *Provisioner
	invalidator cache.Invalidator
	batchSize   int
	now         func() time.Time
}

func NewReconciler(st store.Store, prov *Provisioner, inv cache.Invalidator) *Reconciler {
	return &Reconciler{
		store:       st,
		prov:        prov,
		invalidator: inv,
		batchSize:   defaultBatchSize,
		now:         time.Now,
	}
}

// Run executes one full reconciliation pass. Per-item failures are counted
// and logged but never abort sibling items; the next scheduled run retries
// naturally because the desired-state comparison is idempotent.
func (r *Reconciler) Run(ctx context.Context) error {
	now := r.now()

	subs, err := r.store.ActiveSubscriptions(ctx, now)
	if err != nil {
		return err
	}
	servers, err := r.store.ActiveServers(ctx)
	if err != nil {
		return err
	}

	serversByProtocol := make(map[models.Protocol][]models.Server)
	for _, srv := range servers {
		serversByProtocol[srv.Protocol] = append(serversByProtocol[srv.Protocol], srv)
	}

	subIDs := make([]uint, 0, len(subs))
	for _, sub := range subs {
		subIDs = append(subIDs, sub.ID)
	}

	// Keys are loaded for every protocol, not just protocols with active
	// servers: a protocol whose last server was deactivated still has stale
	// rows to clean up.
	keysBySub := make(map[models.Protocol]map[uint][]store.KeyView)
	for _, protocol := range models.Protocols {
		keys, err := r.store.KeysForSubscriptions(ctx, protocol, subIDs)
		if err != nil {
			return err
		}
		grouped := make(map[uint][]store.KeyView)
		for _, key := range keys {
			grouped[key.SubscriptionID] = append(grouped[key.SubscriptionID], key)
		}
		keysBySub[protocol] = grouped
	}

	var (
		mu      sync.Mutex
		stats   ReconcileStats
		touched = make(map[uint]string) // subscription id -> token
	)

	// Fixed-size batches, parallel within a batch, sequential across batches.
	for start := 0; start < len(subs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(subs) {
			end = len(subs)
		}

		var wg sync.WaitGroup
		for _, sub := range subs[start:end] {
			wg.Add(1)
			go func(sub models.Subscription) {
				defer wg.Done()
				for _, protocol := range models.Protocols {
					created, deleted, failed := r.reconcileSubscription(ctx, sub, serversByProtocol[protocol], keysBySub[protocol][sub.ID])
					mu.Lock()
					stats.Created += created
					stats.Deleted += deleted
					stats.Failures += failed
					if created+deleted > 0 {
						touched[sub.ID] = sub.Token
					}
					mu.Unlock()
				}
			}(sub)
		}
		wg.Wait()
	}

	// Invalidate once per touched subscription, after the batch work.
	for _, token := range touched {
		r.invalidator.Invalidate(ctx, token)
	}

	orphans, orphanFailures := r.sweepOrphans(ctx, servers, subs)
	stats.Orphans = orphans
	stats.Failures += orphanFailures

	log.Printf("Reconciliation done: created=%d deleted=%d orphans=%d failures=%d",
		stats.Created, stats.Deleted, stats.Orphans, stats.Failures)
	return nil
}

// reconcileSubscription converges one subscription against the active servers
// of one protocol.
func (r *Reconciler) reconcileSubscription(ctx context.Context, sub models.Subscription, activeServers []models.Server, keys []store.KeyView) (created, deleted, failed int) {
	activeByID := make(map[uint]models.Server, len(activeServers))
	for _, srv := range activeServers {
		activeByID[srv.ID] = srv
	}

	byServer := make(map[uint][]store.KeyView)
	for _, key := range keys {
		byServer[key.ServerID] = append(byServer[key.ServerID], key)
	}

	var toDelete []store.KeyView
	live := make(map[uint]bool)

	for serverID, group := range byServer {
		if _, active := activeByID[serverID]; !active {
			// Server deactivated or switched protocol.
			toDelete = append(toDelete, group...)
			continue
		}

		// Duplicates: keep the most recently created key (highest id).
		keep := group[0]
		for _, key := range group[1:] {
			if key.ID > keep.ID {
				keep = key
			}
		}
		for _, key := range group {
			if key.ID != keep.ID {
				toDelete = append(toDelete, key)
			}
		}

		if r.prov.probeKey(ctx, keep) {
			live[serverID] = true
		} else {
			// Definitively gone on the remote side: drop the row and let
			// missing-server detection recreate the key.
			toDelete = append(toDelete, keep)
		}
	}

	for _, key := range toDelete {
		if err := r.prov.deleteKey(ctx, key); err != nil {
			log.Printf("Failed to delete key %d (subscription %d, server %d): %v",
				key.ID, sub.ID, key.ServerID, err)
			failed++
			continue
		}
		deleted++
	}

	for serverID, srv := range activeByID {
		if live[serverID] {
			continue
		}
		if err := r.prov.createKey(ctx, sub, srv); err != nil {
			log.Printf("Failed to create key for subscription %d on server %d: %v",
				sub.ID, serverID, err)
			failed++
			continue
		}
		created++
	}

	return created, deleted, failed
}
