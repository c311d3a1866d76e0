// Package server coordinates connection registration, event dispatch, and
// connection cleanup for the Parley relay via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// inboundFrame is one raw frame read off a connection, queued for the
// event loop.
type inboundFrame struct {
	client *Client
	data   []byte
}

// Hub owns the connection registry and the single event loop that all
// mutable relay state hangs off. Inbound events are processed one at a time
// by Run, so the presence directory, conversation store, and signaling
// router are confined to the loop goroutine and carry no locks of their
// own. The client map keeps mutex protection because shutdown and send
// paths snapshot it from outside the loop.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	presence      *Directory
	conversations *Store
	rooms         *Router

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub with empty state, ready to run its event loop.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inboundFrame),
		presence:      NewDirectory(),
		conversations: NewStore(),
		rooms:         NewRouter(),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's event loop. Registration, disconnection, and every
// inbound client event are handled here sequentially; each handler runs to
// completion before the next event is taken. This method should be called
// in a separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.dropClient(client)

		case frame := <-h.inbound:
			h.dispatch(frame.client, frame.data)
		}
	}
}

// addClient admits a connection and starts its pump goroutines. The client
// has no identity yet; that arrives with its signup or signin event.
func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client connected from %s. Total clients: %d", client.addr, clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// dropClient removes a connection from the registry, evicts it from
// signaling rooms, clears its identity, and tells everyone else. Safe to
// call twice for the same client; the second call is a no-op.
func (h *Hub) dropClient(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.closed = true
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()
	if !ok {
		return
	}

	close(client.send)
	log.Printf("Client disconnected from %s. Total clients: %d", client.addr, clientCount)

	h.rooms.Evict(client)
	if h.presence.RemoveByClient(client) {
		h.broadcastActiveUsers()
	}
}

// safeSend queues a frame on a client's send channel without blocking the
// event loop. It reports false when the client is gone or its buffer is full.
func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent racing a
	// concurrent close of the send channel.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// emit encodes an event and queues it for one client, reporting whether the
// frame was queued. Clients whose send buffer is full are dropped from the hub.
func (h *Hub) emit(client *Client, event string, data any) bool {
	frame, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event, err)
		return false
	}
	if !h.safeSend(client, frame) {
		log.Printf("Client from %s dropped: send buffer full or connection gone", client.addr)
		h.dropClient(client)
		return false
	}
	return true
}

// broadcast queues an event for every connected client.
func (h *Hub) broadcast(event string, data any) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		log.Printf("Error encoding %s broadcast: %v", event, err)
		return
	}

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, frame) {
			failed = append(failed, client)
		}
	}
	for _, client := range failed {
		log.Printf("Client from %s removed due to full send buffer", client.addr)
		h.dropClient(client)
	}
}

// broadcastActiveUsers pushes the full active-identity snapshot to every
// connection. Wholesale replacement, no diffs; clients swap their view.
func (h *Hub) broadcastActiveUsers() {
	h.broadcast(EventActiveUsers, h.presence.ListActive())
}

// shutdownClients gracefully closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing client connection from %s: %v", client.addr, err)
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
