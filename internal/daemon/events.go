package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MATXBY/m4brew/internal/job"
	"github.com/MATXBY/m4brew/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is bound to a trusted interface and token-guarded.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventHub serves /api/events. Each connection subscribes to the supervisor
// and receives every job.Update as a JSON text frame, starting with the
// current snapshot.
type eventHub struct {
	sup    *job.Supervisor
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	clients map[*eventClient]struct{}
}

type eventClient struct {
	conn        *websocket.Conn
	updates     <-chan job.Update
	unsubscribe func()
	done        chan struct{}
	once        sync.Once
}

func newEventHub(sup *job.Supervisor, logger *slog.Logger) *eventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventHub{
		sup:     sup,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*eventClient]struct{}),
	}
}

func (h *eventHub) start(parent context.Context) {
	go func() {
		select {
		case <-parent.Done():
			h.stop()
		case <-h.ctx.Done():
		}
	}()
}

func (h *eventHub) stop() {
	h.cancel()
	h.mu.Lock()
	clients := make([]*eventClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *eventHub) serveWS(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("shutting down", "", ""))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err), logging.String(logging.FieldEventType, "websocket_upgrade_failed"))
		return
	}
	updates, unsubscribe := h.sup.Subscribe(256)
	client := &eventClient{
		conn:        conn,
		updates:     updates,
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", logging.String("remote", r.RemoteAddr))

	go h.writePump(client, h.sup.Snapshot())
	go h.readPump(client)
}

func (h *eventHub) remove(c *eventClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (c *eventClient) close() {
	c.once.Do(func() {
		c.unsubscribe()
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump discards client frames and keeps the read deadline alive.
func (h *eventHub) readPump(c *eventClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxClientFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", logging.Error(err))
			}
			return
		}
	}
}

func (h *eventHub) writePump(c *eventClient, initial job.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	if err := c.write(job.Update{Snapshot: initial}); err != nil {
		return
	}
	for {
		select {
		case update, ok := <-c.updates:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.write(update); err != nil {
				h.logger.Debug("websocket write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *eventClient) write(update job.Update) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(update)
}
