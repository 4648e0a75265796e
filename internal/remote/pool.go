package remote

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool reuses SFTP connections per logical server across scheduler passes.
// Connections are handed out exclusively: the scheduler processes servers
// sequentially, so a single slot per server is enough.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[string]*Client)}
}

// Get returns a pooled connection for the server, dialing a new one if none
// is cached. Callers that hit an operation error should call Discard so the
// next Get dials fresh.
func (p *Pool) Get(ctx context.Context, serverID string, target Target) (FS, error) {
	p.mu.Lock()
	client, ok := p.clients[serverID]
	p.mu.Unlock()

	if ok {
		// Cheap liveness probe; a dead connection is replaced transparently.
		if _, err := client.Stat(ctx, "."); err == nil {
			return client, nil
		}
		logrus.WithField("server", serverID).Debug("pooled sftp connection stale, redialing")
		p.Discard(serverID)
	}

	client, err := Dial(ctx, target)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.clients[serverID] = client
	p.mu.Unlock()
	return client, nil
}

// Discard closes and removes a pooled connection.
func (p *Pool) Discard(serverID string) {
	p.mu.Lock()
	client, ok := p.clients[serverID]
	delete(p.clients, serverID)
	p.mu.Unlock()

	if ok {
		client.Close()
	}
}

// CloseAll closes every pooled connection. Called at shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	for id, client := range clients {
		if err := client.Close(); err != nil {
			logrus.WithField("server", id).WithError(err).Warn("closing pooled sftp connection")
		}
	}
}
