package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/CoolE88/agro-telemetry-service/internal/domain"
	"github.com/CoolE88/agro-telemetry-service/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	broadcastBuffer = 64
	clientBuffer    = 32
)

type message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub рассылает события алертов подключённым websocket клиентам. Множеством клиентов
// владеет горутина Run.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int64

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run обслуживает регистрации и рассылку до отмены ctx, затем отключает всех клиентов
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			h.logger.Info("[Stream] Hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.updateCount()
			h.logger.Info("[Stream] Client connected", zap.String("remote", c.remote()))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.remove(c)
				h.logger.Info("[Stream] Client disconnected", zap.String("remote", c.remote()))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("[Stream] Client too slow, disconnecting", zap.String("remote", c.remote()))
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	delete(h.clients, c)
	h.updateCount()
	close(c.send)
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.StreamClients.Set(float64(len(h.clients)))
}

func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// NotifyAlert ставит событие в очередь рассылки. Никогда не блокирует: при полном буфере
// событие отбрасывается.
func (h *Hub) NotifyAlert(_ context.Context, event domain.AlertEvent) {
	msg, err := json.Marshal(message{Type: "alert", Payload: event})
	if err != nil {
		h.logger.Error("[Stream] Failed to encode alert event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("[Stream] Broadcast buffer full, dropping alert event",
			zap.String("action", event.Action))
	}
}

// ServeWS переводит запрос на websocket и подключает соединение к hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[Stream] Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
