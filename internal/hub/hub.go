package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const defaultBatchInterval = 100 * time.Millisecond

// Hub fans session and job events out to attached websocket clients.
// Output is coalesced per session before broadcast so a chatty shell
// does not turn into a message per byte.
type Hub struct {
	clients    map[string]*Client
	register   chan *clientRegistration
	unregister chan *Client
	broadcast  chan hubBroadcast
	token      string
	mu         sync.RWMutex
	sessions   []string
	sessionsMu sync.RWMutex
	batcher    *Batcher
	ctxWrap    *ctxWrapper
	running    atomic.Bool
}

type ctxWrapper struct {
	ctx context.Context
}

type clientRegistration struct {
	client          *Client
	initialSessions []byte
}

func New(token string) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *clientRegistration, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 256),
		token:      token,
		ctxWrap:    &ctxWrapper{ctx: context.Background()},
	}
	h.batcher = NewBatcher(defaultBatchInterval, func(session string, msg OutputMessage) {
		h.sendBroadcast(msg)
	})
	return h
}

func (h *Hub) getContext() context.Context {
	if h.ctxWrap != nil {
		return h.ctxWrap.ctx
	}
	return context.Background()
}

func (h *Hub) Run(ctx context.Context) {
	h.ctxWrap = &ctxWrapper{ctx: ctx}
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.batcher.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client.id] = reg.client
			h.mu.Unlock()
			if reg.initialSessions != nil {
				select {
				case reg.client.send <- reg.initialSessions:
				default:
				}
			}
			go reg.client.writePump(h.getContext())
			go reg.client.readPump(h.getContext())
			log.Printf("client attached: %s (total: %d)", reg.client.id, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("client detached: %s (total: %d)", client.id, h.ClientCount())

		case b := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				if !c.wantsSession(b.session) {
					continue
				}
				select {
				case c.send <- b.data:
				default:
					log.Printf("client %s send buffer full, dropping message", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleAttach upgrades an observer connection. A non-empty hub token
// must be echoed in the token query parameter.
func (h *Hub) HandleAttach(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.URL.Query().Get("token") != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept error: %v", err)
		return
	}

	client := newClient(conn, h)

	h.sessionsMu.RLock()
	sessions := h.sessions
	h.sessionsMu.RUnlock()

	msg := SessionsMessage{Type: "sessions", List: sessions}
	initialSessions, _ := json.Marshal(msg)

	select {
	case h.register <- &clientRegistration{client: client, initialSessions: initialSessions}:
	default:
		log.Printf("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// SessionOutput batches terminal output for broadcast. This is the
// sink the bash controller writes into.
func (h *Hub) SessionOutput(session string, text string) {
	h.batcher.Add(OutputMessage{
		Type:    "output",
		Session: session,
		Text:    text,
		Ts:      time.Now().UnixMilli(),
	})
}

func (h *Hub) sendBroadcast(msg OutputMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling output message: %v", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, session: msg.Session}:
	default:
		log.Printf("broadcast channel full, dropping message")
	}
}

// SessionsChanged replaces the live session list and announces it.
func (h *Hub) SessionsChanged(sessions []string) {
	h.sessionsMu.Lock()
	h.sessions = sessions
	h.sessionsMu.Unlock()

	msg := SessionsMessage{Type: "sessions", List: sessions}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling sessions message: %v", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data}:
	default:
		log.Printf("broadcast channel full, dropping sessions message")
	}
}

// SessionEvent announces a single session lifecycle change.
func (h *Hub) SessionEvent(session string, event string) {
	msg := SessionMessage{Type: "session", Session: session, Event: event, Ts: time.Now().UnixMilli()}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling session message: %v", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, session: session}:
	default:
		log.Printf("broadcast channel full, dropping session message")
	}
}

// JobEvent announces a job lifecycle change.
func (h *Hub) JobEvent(pid int, event string, exitCode *int) {
	msg := JobMessage{Type: "job", Pid: pid, Event: event, ExitCode: exitCode, Ts: time.Now().UnixMilli()}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling job message: %v", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data}:
	default:
		log.Printf("broadcast channel full, dropping job message")
	}
}

func (h *Hub) SendError(client *Client, message string) {
	msg := ErrorMessage{Type: "error", Message: message}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("error marshaling error message: %v", err)
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// FlushPendingOutput forces out any batched output immediately.
func (h *Hub) FlushPendingOutput() {
	if h.batcher != nil {
		h.batcher.FlushAll()
	}
}

func (h *Hub) isRunning() bool {
	return h.running.Load()
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.isRunning() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		log.Printf("unregister channel full for client %s, forcing close", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
