// Package hub binds live websocket connections to identities and
// routes client events into the registry and the channel store. A
// connection starts with no identity attached; register, login or
// resume promote it, and a transport close always flows back through
// the registry to clear the live-connection pointer.
package hub

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relay-lab/moderation"
	"relay-lab/repositories"
	"relay-lab/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Options tune per-deployment behavior of the hub.
type Options struct {
	// RequireAuth rejects join_channel/send_message from connections
	// without a bound identity. Off by default: anonymous connections
	// may join and send, recorded under the unknown-sender sentinel.
	RequireAuth bool

	// SendBufferSize is the per-connection outbound queue. A member
	// whose queue is full gets evicted rather than blocking fan-out to
	// the others.
	SendBufferSize int
}

type Hub struct {
	log       *slog.Logger
	accounts  services.IAccountService
	registry  repositories.IIdentityRegistry
	store     repositories.IChannelStore
	moderator *moderation.Moderator // nil disables masking
	opts      Options

	mu      sync.RWMutex
	clients map[string]*Client // conn id -> client

	// orderMu serializes a message's append with its fan-out, and join
	// snapshots with both. Members therefore observe messages in history
	// order, and a joining connection can never see the same message in
	// its history snapshot and again in a trailing broadcast.
	orderMu sync.Mutex
}

func NewHub(log *slog.Logger, accounts services.IAccountService,
	registry repositories.IIdentityRegistry, store repositories.IChannelStore,
	moderator *moderation.Moderator, opts Options) *Hub {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	return &Hub{
		log:       log,
		accounts:  accounts,
		registry:  registry,
		store:     store,
		moderator: moderator,
		opts:      opts,
		clients:   make(map[string]*Client),
	}
}

// ServeWS upgrades an HTTP request and runs the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "err", err)
		return
	}

	client := newClient(uuid.NewString(), h, conn, h.opts.SendBufferSize)
	h.attach(client)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.log.Debug("Connection attached", "conn", c.ID)
}

// Detach tears a connection down: it leaves every channel membership,
// the registry clears its live-connection pointer and stamps
// LastSeenAt, and the identity record itself is retained.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	// Closed inside the critical section so no send path can race the
	// close: every send holds the read lock and checks membership
	// first.
	c.close()
	h.mu.Unlock()

	h.registry.OnDisconnect(c.ID)
	h.store.RemoveConn(c.ID)
	h.log.Debug("Connection detached", "conn", c.ID)
}

// broadcast fans a frame out to every current member of the channel,
// the sender's own connection included. Delivery is fire-and-forget
// per member: a full queue evicts that member and never blocks or
// fails the others.
func (h *Hub) broadcast(channelID string, frame []byte) {
	members := h.store.Members(channelID)

	h.mu.RLock()
	var evicted []*Client
	for _, connID := range members {
		c, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case c.Send <- frame:
		default:
			evicted = append(evicted, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range evicted {
		h.log.Warn("Member queue full, evicting", "conn", c.ID)
		go h.Detach(c)
	}
}

// push delivers one frame to a single connection, same discipline as
// broadcast.
func (h *Hub) push(c *Client, frame []byte) {
	h.mu.RLock()
	_, attached := h.clients[c.ID]
	if attached {
		select {
		case c.Send <- frame:
			attached = true
		default:
			attached = false
		}
	}
	h.mu.RUnlock()

	if !attached {
		go h.Detach(c)
	}
}

// ConnectionCount reports attached connections, bound or not.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
