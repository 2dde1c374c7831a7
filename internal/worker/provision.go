package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/semaphore"

	"github.com/merdocx/veilbot-sub000/internal/models"
	"github.com/merdocx/veilbot-sub000/internal/store"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// Provisioner owns the create/delete/probe paths against the control planes.
// Every worker routes key mutations through it so deletion semantics stay
// identical everywhere. All remote calls pass through the shared semaphore.
type Provisioner struct {
	store   store.Store
	clients vpn.Factory
	sem     *semaphore.Weighted
}

func NewProvisioner(st store.Store, clients vpn.Factory, sem *semaphore.Weighted) *Provisioner {
	return &Provisioner{store: st, clients: clients, sem: sem}
}

// keyLabel is the name a credential carries on the remote server. It doubles
// as the secondary match during the orphan sweep.
func keyLabel(subID uint) string {
	return fmt.Sprintf("sub-%d@veilbot", subID)
}

// createKey provisions a remote credential and records it locally. If the
// local insert loses a duplicate race, the just-created remote credential is
// deleted again so no orphan is left behind.
func (p *Provisioner) createKey(ctx context.Context, sub models.Subscription, server models.Server) error {
	client, err := p.clients.Client(server)
	if err != nil {
		return err
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	user, err := client.CreateUser(ctx, keyLabel(sub.ID))
	p.sem.Release(1)
	if err != nil {
		return fmt.Errorf("remote create on server %d: %w", server.ID, err)
	}

	inserted, err := p.store.InsertKey(ctx, store.NewKey{
		Protocol:       server.Protocol,
		SubscriptionID: sub.ID,
		ServerID:       server.ID,
		NativeID:       user.NativeID,
		AccessURL:      user.ConfigURL,
	})
	if err == nil && inserted {
		return nil
	}

	// Either the insert failed or a concurrent run won the race. Undo the
	// remote credential instead of leaving it orphaned.
	p.undoCreate(ctx, client, server.ID, user.NativeID)
	if err != nil {
		return fmt.Errorf("local insert for server %d: %w", server.ID, err)
	}
	log.Printf("Duplicate key for subscription %d on server %d, removed losing credential %s",
		sub.ID, server.ID, user.NativeID)
	return nil
}

func (p *Provisioner) undoCreate(ctx context.Context, client vpn.Client, serverID uint, nativeID string) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)
	if err := client.DeleteUser(ctx, nativeID); err != nil && !errors.Is(err, vpn.ErrNotFound) {
		log.Printf("Failed to undo credential %s on server %d: %v", nativeID, serverID, err)
	}
}

// deleteKey removes the remote credential and then the local row. The local
// row survives if the remote delete fails for anything other than a
// definitive not-found, so the next run retries. A row with no native id has
// nothing remote to clean up.
func (p *Provisioner) deleteKey(ctx context.Context, key store.KeyView) error {
	if key.NativeID != "" {
		client, err := p.clients.Client(key.Server)
		if err != nil {
			return err
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		err = client.DeleteUser(ctx, key.NativeID)
		p.sem.Release(1)
		if err != nil && !errors.Is(err, vpn.ErrNotFound) {
			return fmt.Errorf("remote delete of %s on server %d: %w", key.NativeID, key.ServerID, err)
		}
	}

	return p.store.DeleteKey(ctx, key.Protocol, key.ID)
}

// probeKey reports whether the remote credential still resolves. Only a
// definitive not-found counts as absence; any other failure is treated as
// "exists" so a transient outage cannot trigger mass recreation.
func (p *Provisioner) probeKey(ctx context.Context, key store.KeyView) bool {
	if key.NativeID == "" {
		return false
	}

	client, err := p.clients.Client(key.Server)
	if err != nil {
		return true
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return true
	}
	_, err = client.GetUserConfig(ctx, key.NativeID)
	p.sem.Release(1)

	return !errors.Is(err, vpn.ErrNotFound)
}

// removeSubscriptionKeys deletes every key of a subscription across all
// protocols. Failures are logged and counted, never fatal.
func (p *Provisioner) removeSubscriptionKeys(ctx context.Context, subID uint) (deleted, failed int) {
	for _, protocol := range models.Protocols {
		keys, err := p.store.KeysForSubscriptions(ctx, protocol, []uint{subID})
		if err != nil {
			log.Printf("Failed to load %s keys for subscription %d: %v", protocol, subID, err)
			failed++
			continue
		}
		for _, key := range keys {
			if err := p.deleteKey(ctx, key); err != nil {
				log.Printf("Failed to delete key %d (subscription %d): %v", key.ID, subID, err)
				failed++
				continue
			}
			deleted++
		}
	}
	return deleted, failed
}
