package transport

import (
	"context"
	"errors"
	"sync"
)

// Hub connects Loopback transports inside one process. Delivery is
// synchronous.
type Hub struct {
	mu    sync.RWMutex
	peers map[string]*router
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*router)}
}

type Loopback struct {
	*router
	hub *Hub
}

func (h *Hub) Connect(privateKey string) (*Loopback, error) {
	r, err := newRouter(privateKey, func(ctx context.Context, room, member string, data []byte) error {
		h.mu.RLock()
		peer, ok := h.peers[member]
		h.mu.RUnlock()
		if !ok {
			// nobody listening, like a broker without subscribers
			return nil
		}
		peer.receive(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[r.identity]; ok {
		return nil, errors.New("identity already connected")
	}
	h.peers[r.identity] = r
	return &Loopback{router: r, hub: h}, nil
}

func (l *Loopback) Close() {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	delete(l.hub.peers, l.identity)
}
