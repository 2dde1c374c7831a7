package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/merdocx/veilbot-sub000/internal/models"
	"github.com/merdocx/veilbot-sub000/internal/store"
	"github.com/merdocx/veilbot-sub000/internal/vpn"
)

// fakeStore is an in-memory store.Store implementation.
type fakeStore struct {
	mu      sync.Mutex
	subs    map[uint]*models.Subscription
	servers map[uint]*models.Server
	keys    map[models.Protocol]map[uint]*keyRow
	nextKey uint
}

type keyRow struct {
	id       uint
	subID    uint
	serverID uint
	nativeID string
	usage    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:    make(map[uint]*models.Subscription),
		servers: make(map[uint]*models.Server),
		keys: map[models.Protocol]map[uint]*keyRow{
			models.ProtocolOutline: {},
			models.ProtocolV2Ray:   {},
		},
	}
}

func (f *fakeStore) addSubscription(sub models.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sub
	f.subs[sub.ID] = &s
}

func (f *fakeStore) addServer(srv models.Server) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := srv
	f.servers[srv.ID] = &s
}

func (f *fakeStore) addKey(protocol models.Protocol, subID, serverID uint, nativeID string) uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextKey++
	f.keys[protocol][f.nextKey] = &keyRow{
		id:       f.nextKey,
		subID:    subID,
		serverID: serverID,
		nativeID: nativeID,
	}
	return f.nextKey
}

func (f *fakeStore) subscription(id uint) models.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.subs[id]
}

func (f *fakeStore) keyCount(protocol models.Protocol) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys[protocol])
}

func (f *fakeStore) ActiveSubscriptions(_ context.Context, now time.Time) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.IsActive && sub.ExpiresAt > now.Unix() {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeStore) ExpiringSubscriptions(_ context.Context, from, to time.Time) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.IsActive && !sub.ExpiryNotified && sub.ExpiresAt >= from.Unix() && sub.ExpiresAt <= to.Unix() {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeStore) ExpiredSubscriptions(_ context.Context, before time.Time) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.ExpiresAt < before.Unix() {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveServers(_ context.Context) ([]models.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Server
	for _, srv := range f.servers {
		if srv.Active {
			out = append(out, *srv)
		}
	}
	return out, nil
}

func (f *fakeStore) view(protocol models.Protocol, row *keyRow) store.KeyView {
	v := store.KeyView{
		ID:             row.id,
		Protocol:       protocol,
		SubscriptionID: row.subID,
		ServerID:       row.serverID,
		NativeID:       row.nativeID,
		UsageBytes:     row.usage,
	}
	if srv, ok := f.servers[row.serverID]; ok {
		v.Server = *srv
	}
	return v
}

func (f *fakeStore) KeysForSubscriptions(_ context.Context, protocol models.Protocol, subIDs []uint) ([]store.KeyView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[uint]bool, len(subIDs))
	for _, id := range subIDs {
		wanted[id] = true
	}
	var out []store.KeyView
	for _, row := range f.keys[protocol] {
		if wanted[row.subID] {
			out = append(out, f.view(protocol, row))
		}
	}
	return out, nil
}

func (f *fakeStore) KeysForServer(_ context.Context, protocol models.Protocol, serverID uint) ([]store.KeyView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.KeyView
	for _, row := range f.keys[protocol] {
		if row.serverID == serverID {
			out = append(out, f.view(protocol, row))
		}
	}
	return out, nil
}

func (f *fakeStore) InsertKey(_ context.Context, key store.NewKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.keys[key.Protocol] {
		if row.subID == key.SubscriptionID && row.serverID == key.ServerID {
			return false, nil
		}
	}
	f.nextKey++
	f.keys[key.Protocol][f.nextKey] = &keyRow{
		id:       f.nextKey,
		subID:    key.SubscriptionID,
		serverID: key.ServerID,
		nativeID: key.NativeID,
	}
	return true, nil
}

func (f *fakeStore) DeleteKey(_ context.Context, protocol models.Protocol, keyID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys[protocol], keyID)
	return nil
}

func (f *fakeStore) UpdateKeyUsage(_ context.Context, updates []store.KeyUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		if row, ok := f.keys[models.ProtocolV2Ray][u.KeyID]; ok {
			row.usage = u.Bytes
		}
	}
	return nil
}

func (f *fakeStore) UpdateSubscriptionUsage(_ context.Context, updates []store.SubscriptionUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		if sub, ok := f.subs[u.SubscriptionID]; ok {
			sub.TrafficUsageBytes = u.Bytes
		}
	}
	return nil
}

func (f *fakeStore) UpdateSubscriptionFlags(_ context.Context, updates []store.SubscriptionFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range updates {
		if sub, ok := f.subs[u.SubscriptionID]; ok {
			sub.TrafficOverLimitAt = u.TrafficOverLimitAt
			sub.TrafficWarnSent = u.WarnSent
			sub.TrafficDisableSent = u.DisableSent
		}
	}
	return nil
}

func (f *fakeStore) MarkExpiryNotified(_ context.Context, subIDs []uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range subIDs {
		if sub, ok := f.subs[id]; ok {
			sub.ExpiryNotified = true
		}
	}
	return nil
}

func (f *fakeStore) DeactivateSubscription(_ context.Context, subID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[subID]; ok {
		sub.IsActive = false
	}
	return nil
}

func (f *fakeStore) DeleteSubscription(_ context.Context, subID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, subID)
	for _, table := range f.keys {
		for id, row := range table {
			if row.subID == subID {
				delete(table, id)
			}
		}
	}
	return nil
}

// fakeClient is an in-memory control plane for one server.
type fakeClient struct {
	mu     sync.Mutex
	users  map[string]vpn.User
	usage  map[string]int64
	nextID int

	createErr  error
	deleteErr  error
	configErr  error
	listErr    error
	trafficErr error

	creates int
	deletes int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		users: make(map[string]vpn.User),
		usage: make(map[string]int64),
	}
}

func (c *fakeClient) addUser(nativeID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[nativeID] = vpn.User{NativeID: nativeID, Name: name}
}

func (c *fakeClient) setUsage(nativeID string, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage[nativeID] = bytes
}

func (c *fakeClient) userCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

func (c *fakeClient) has(nativeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.users[nativeID]
	return ok
}

func (c *fakeClient) counts() (creates, deletes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates, c.deletes
}

func (c *fakeClient) CreateUser(_ context.Context, label string) (*vpn.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.creates++
	c.nextID++
	user := vpn.User{
		NativeID: fmt.Sprintf("native-%d", c.nextID),
		Name:     label,
	}
	c.users[user.NativeID] = user
	return &user, nil
}

func (c *fakeClient) DeleteUser(_ context.Context, nativeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	if _, ok := c.users[nativeID]; !ok {
		return vpn.ErrNotFound
	}
	c.deletes++
	delete(c.users, nativeID)
	return nil
}

func (c *fakeClient) GetUserConfig(_ context.Context, nativeID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.configErr != nil {
		return "", c.configErr
	}
	if _, ok := c.users[nativeID]; !ok {
		return "", vpn.ErrNotFound
	}
	return "config://" + nativeID, nil
}

func (c *fakeClient) ListUsers(_ context.Context) ([]vpn.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	var out []vpn.User
	for _, u := range c.users {
		out = append(out, u)
	}
	return out, nil
}

func (c *fakeClient) Traffic(_ context.Context, nativeID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.trafficErr != nil {
		return 0, c.trafficErr
	}
	return c.usage[nativeID], nil
}

func (c *fakeClient) Close() error { return nil }

// fakeFactory returns a fixed client per server id.
type fakeFactory struct {
	clients map[uint]*fakeClient
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(map[uint]*fakeClient)}
}

func (f *fakeFactory) client(serverID uint) *fakeClient {
	if c, ok := f.clients[serverID]; ok {
		return c
	}
	c := newFakeClient()
	f.clients[serverID] = c
	return c
}

func (f *fakeFactory) Client(srv models.Server) (vpn.Client, error) {
	return f.client(srv.ID), nil
}

// recordingNotifier collects notifications instead of sending them.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	userIDs  []int64
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userIDs = append(n.userIDs, userID)
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// recordingInvalidator collects invalidated tokens.
type recordingInvalidator struct {
	mu     sync.Mutex
	tokens []string
}

func (i *recordingInvalidator) Invalidate(_ context.Context, token string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tokens = append(i.tokens, token)
}

func (i *recordingInvalidator) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.tokens)
}
