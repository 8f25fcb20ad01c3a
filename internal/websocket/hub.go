package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dafibh/layouts/layouts-backend/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClientClosed is returned when attempting to send to a closed client
	ErrClientClosed = errors.New("client is closed")
	// ErrClientTooSlow is returned when a client's send buffer is full
	ErrClientTooSlow = errors.New("client send buffer is full")
)

// syncTimeout bounds the metadata read behind a sync message
const syncTimeout = 5 * time.Second

// ClientInterface defines the interface that clients must implement
type ClientInterface interface {
	ID() string
	Namespace() string
	UserID() string
	Send(data []byte) error
	Close() error
}

// MetadataLister lists the layouts of a namespace for sync messages.
// domain.LayoutRepository satisfies it.
type MetadataLister interface {
	ListMetadata(ctx context.Context, namespace string) ([]domain.LayoutMetadata, error)
}

// clientMessage is the only inbound message shape: {"type": "sync"}
type clientMessage struct {
	Type string `json:"type"`
}

const clientMessageSync = "sync"

// room holds the clients following one namespace
type room struct {
	clients map[string]ClientInterface
}

// Hub fans layout events out to the clients of each namespace.
// A client that cannot keep up is dropped; it resyncs when it reconnects.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	lister MetadataLister
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]*room),
	}
}

// SetMetadataLister enables layout.sync messages on connect and on request
func (h *Hub) SetMetadataLister(lister MetadataLister) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lister = lister
}

// Register adds a client to its namespace and sends it the current layout list
func (h *Hub) Register(client ClientInterface) {
	h.mu.Lock()
	r, ok := h.rooms[client.Namespace()]
	if !ok {
		r = &room{clients: make(map[string]ClientInterface)}
		h.rooms[client.Namespace()] = r
	}
	r.clients[client.ID()] = client
	h.mu.Unlock()

	log.Debug().
		Str("namespace", client.Namespace()).
		Str("client_id", client.ID()).
		Msg("WebSocket client registered")

	h.Sync(client)
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client ClientInterface) {
	if h.remove(client) {
		log.Debug().
			Str("namespace", client.Namespace()).
			Str("client_id", client.ID()).
			Msg("WebSocket client unregistered")
	}
}

// remove deletes the client and reports whether it was registered
func (h *Hub) remove(client ClientInterface) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[client.Namespace()]
	if !ok {
		return false
	}
	if _, exists := r.clients[client.ID()]; !exists {
		return false
	}
	delete(r.clients, client.ID())
	if len(r.clients) == 0 {
		delete(h.rooms, client.Namespace())
	}
	return true
}

// Broadcast sends an event to every client in a namespace allowed to see it
func (h *Hub) Broadcast(namespace string, event Event) {
	data, err := event.ToJSON()
	if err != nil {
		log.Error().
			Err(err).
			Str("namespace", namespace).
			Str("event_type", event.Type).
			Msg("Failed to serialize event")
		return
	}

	delivered := 0
	for _, client := range h.clients(namespace) {
		if !event.VisibleTo(client.UserID()) {
			continue
		}
		h.deliver(client, data)
		delivered++
	}

	if delivered > 0 {
		log.Debug().
			Str("namespace", namespace).
			Str("event_type", event.Type).
			Int("client_count", delivered).
			Msg("Broadcast event")
	}
}

// Sync sends the client a layout.sync event with the namespace's layouts its user may see
func (h *Hub) Sync(client ClientInterface) {
	h.mu.RLock()
	lister := h.lister
	h.mu.RUnlock()
	if lister == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	layouts, err := lister.ListMetadata(ctx, client.Namespace())
	if err != nil {
		log.Error().
			Err(err).
			Str("namespace", client.Namespace()).
			Str("client_id", client.ID()).
			Msg("Failed to list layouts for sync")
		return
	}

	data, err := LayoutSync(domain.FilterVisible(layouts, client.UserID())).ToJSON()
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialize sync event")
		return
	}
	h.deliver(client, data)
}

// HandleMessage processes a message received from a client
func (h *Hub) HandleMessage(client ClientInterface, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Str("client_id", client.ID()).Msg("Ignoring malformed WebSocket message")
		return
	}

	switch msg.Type {
	case clientMessageSync:
		h.Sync(client)
	default:
		log.Debug().
			Str("client_id", client.ID()).
			Str("message_type", msg.Type).
			Msg("Ignoring unknown WebSocket message")
	}
}

// deliver queues data on the client, dropping clients that fail
func (h *Hub) deliver(client ClientInterface, data []byte) {
	err := client.Send(data)
	if err == nil {
		return
	}

	log.Warn().
		Err(err).
		Str("namespace", client.Namespace()).
		Str("client_id", client.ID()).
		Msg("Dropping WebSocket client")
	h.Unregister(client)
	_ = client.Close()
}

// clients returns a copy of the namespace's clients so sends happen without the lock
func (h *Hub) clients(namespace string) []ClientInterface {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[namespace]
	if !ok {
		return nil
	}
	result := make([]ClientInterface, 0, len(r.clients))
	for _, client := range r.clients {
		result = append(result, client)
	}
	return result
}

// ClientCount returns the number of clients connected to a namespace
func (h *Hub) ClientCount(namespace string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if r, ok := h.rooms[namespace]; ok {
		return len(r.clients)
	}
	return 0
}

// TotalClientCount returns the total number of connected clients across all namespaces
func (h *Hub) TotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, r := range h.rooms {
		total += len(r.clients)
	}
	return total
}
