package worker

import (
	"context"
	"errors"
	"log"

	"github.com/merdocx/veilbot-sub000/internal/models"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// sweepOrphans lists every remote credential on every active server and
// removes the ones with no local key row and no label match. This catches
// credentials left behind by crashes between remote-create and local-insert,
// and by manual server-side actions.
func (r *Reconciler) sweepOrphans(ctx context.Context, servers []models.Server, subs []models.Subscription) (removed, failed int) {
	knownLabels := make(map[string]bool, len(subs))
	for _, sub := range subs {
		knownLabels[keyLabel(sub.ID)] = true
	}

	for _, srv := range servers {
		keys, err := r.store.KeysForServer(ctx, srv.Protocol, srv.ID)
		if err != nil {
			log.Printf("Orphan sweep: failed to load keys for server %d: %v", srv.ID, err)
			failed++
			continue
		}
		knownNative := make(map[string]bool, len(keys))
		for _, key := range keys {
			knownNative[key.NativeID] = true
		}

		client, err := r.prov.clients.Client(srv)
		if err != nil {
			log.Printf("Orphan sweep: no client for server %d: %v", srv.ID, err)
			failed++
			continue
		}

		users, err := r.listUsers(ctx, client)
		if err != nil {
			// Transient listing failure: skip the server, retry next run.
			log.Printf("Orphan sweep: failed to list users on server %d: %v", srv.ID, err)
			failed++
			continue
		}

		for _, user := range users {
			if knownNative[user.NativeID] || knownLabels[user.Name] {
				continue
			}
			if err := r.deleteRemote(ctx, client, user.NativeID); err != nil {
				log.Printf("Orphan sweep: failed to delete %s on server %d: %v",
					user.NativeID, srv.ID, err)
				failed++
				continue
			}
			log.Printf("Orphan sweep: removed credential %s (%q) from server %d",
				user.NativeID, user.Name, srv.ID)
			removed++
		}
	}

	return removed, failed
}

func (r *Reconciler) listUsers(ctx context.Context, client vpn.Client) ([]vpn.User, error) {
	if err := r.prov.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.prov.sem.Release(1)
	return client.ListUsers(ctx)
}

func (r *Reconciler) deleteRemote(ctx context.Context, client vpn.Client, nativeID string) error {
	if err := r.prov.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.prov.sem.Release(1)

	if err := client.DeleteUser(ctx, nativeID); err != nil && !errors.Is(err, vpn.ErrNotFound) {
		return err
	}
	return nil
}
