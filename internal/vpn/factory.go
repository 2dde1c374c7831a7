package vpn

import (
	"fmt"
	"sync"

	"github.com/merdocx/veilbot-sub000/internal/models"
)

// Factory hands out a control-plane client for a server.
type Factory interface {
	Client(server models.Server) (Client, error)
}

// Builder constructs a client for one protocol from the server record.
type Builder func(server models.Server) (Client, error)

// CachingFactory builds clients lazily and reuses them per server id.
// The cache is owned by the factory instance, constructed once at startup.
type CachingFactory struct {
	builders map[models.Protocol]Builder

	mu      sync.Mutex
	clients map[uint]Client
}

func NewCachingFactory(builders map[models.Protocol]Builder) *CachingFactory {
	return &CachingFactory{
		builders: builders,
		clients:  make(map[uint]Client),
	}
}

func (f *CachingFactory) Client(server models.Server) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[server.ID]; ok {
		return c, nil
	}

	build, ok := f.builders[server.Protocol]
	if !ok {
		return nil, fmt.Errorf("no client builder for protocol %q", server.Protocol)
	}

	c, err := build(server)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s client for server %d: %w", server.Protocol, server.ID, err)
	}

	f.clients[server.ID] = c
	return c, nil
}

// Close closes every cached client.
func (f *CachingFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, c := range f.clients {
		_ = c.Close()
		delete(f.clients, id)
	}
}
