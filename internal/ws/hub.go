package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by site ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with site identifier.
type message struct {
	siteID  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	siteID string
	client Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.siteID]; !ok {
				h.clients[sub.siteID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.siteID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.siteID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.siteID)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.siteID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.siteID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to a site stream.
func (h *Hub) Register(siteID string, client Subscriber) {
	h.register <- subscription{siteID: siteID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(siteID string, client Subscriber) {
	h.unreg <- subscription{siteID: siteID, client: client}
}

// Broadcast sends payload to all site clients.
func (h *Hub) Broadcast(siteID string, payload []byte) {
	h.broadcast <- message{siteID: siteID, payload: payload}
}

// Sites returns the IDs of sites that currently have subscribers.
func (h *Hub) Sites() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sites := make([]string, 0, len(h.clients))
	for siteID := range h.clients {
		sites = append(sites, siteID)
	}
	return sites
}

// HasSubscribers reports whether a site stream has at least one client.
func (h *Hub) HasSubscribers(siteID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[siteID]) > 0
}
