package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flybeeper/runtracker/internal/config"
	"github.com/flybeeper/runtracker/internal/metrics"
	"github.com/flybeeper/runtracker/internal/service"
	"github.com/flybeeper/runtracker/pkg/utils"
)

const writeWait = 10 * time.Second

// WebSocketHandler транслирует события движка WebSocket клиентам
type WebSocketHandler struct {
	upgrader     websocket.Upgrader
	tracker      Tracker
	logger       *utils.Logger
	pingInterval time.Duration
	pongTimeout  time.Duration
	bufferSize   int

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client представляет WebSocket соединение
type Client struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	handler     *WebSocketHandler
	withMetrics bool
	unsubscribe func()

	mu     sync.Mutex
	closed bool
}

// NewWebSocketHandler создает новый WebSocket handler
func NewWebSocketHandler(tracker Tracker, cfg *config.PerformanceConfig, logger *utils.Logger) *WebSocketHandler {
	pingInterval, pongTimeout := cfg.WebSocketPingInterval, cfg.WebSocketPongTimeout
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if pongTimeout <= pingInterval {
		pongTimeout = 2 * pingInterval
	}

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		tracker:      tracker,
		logger:       logger,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		bufferSize:   cfg.EventBufferSize,
		clients:      make(map[string]*Client),
	}
}

// HandleWebSocket обрабатывает WebSocket подключения.
// GET /ws/v1/events?metrics=false отключает ежесекундные метрики.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	withMetrics := c.DefaultQuery("metrics", "true") != "false"

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	bufferSize := h.bufferSize
	if bufferSize < 1 {
		bufferSize = 64
	}
	client := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, bufferSize),
		handler:     h,
		withMetrics: withMetrics,
	}

	// Текущее состояние сразу после подключения
	m := h.tracker.CurrentMetrics()
	client.enqueue(service.Event{Type: service.EventMetrics, RunID: m.RunID, Timestamp: time.Now(), Metrics: &m})
	client.unsubscribe = h.tracker.Subscribe(service.EventListener(client.HandleEvent))

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()

	h.logger.WithFields(map[string]interface{}{
		"client_id": client.id,
		"client_ip": c.ClientIP(),
		"metrics":   withMetrics,
	}).Info("WebSocket client connected")

	go client.writePump()
	go client.readPump()
}

// HandleEvent ставит событие движка в очередь клиента
func (c *Client) HandleEvent(e service.Event) {
	if e.Type == service.EventMetrics && !c.withMetrics {
		return
	}
	c.enqueue(e)
}

// enqueue не блокирует: медленный клиент теряет события, движок не ждет
func (c *Client) enqueue(e service.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		c.handler.logger.WithError(err).WithField("type", e.Type).Error("Failed to marshal event")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		metrics.WebSocketMessagesDropped.Inc()
		c.handler.logger.WithField("client_id", c.id).Debug("WebSocket client buffer full, event dropped")
	}
}

// close закрывает очередь клиента один раз
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump обрабатывает входящие сообщения от клиента
func (c *Client) readPump() {
	defer func() {
		c.handler.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(c.handler.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.handler.pongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.logger.WithError(err).WithField("client_id", c.id).Warn("WebSocket read error")
			}
			return
		}
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(c.handler.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.handler.logger.WithError(err).WithField("client_id", c.id).Warn("WebSocket write error")
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("event").Inc()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("ping").Inc()
		}
	}
}

// unregisterClient удаляет клиента и отписывает его от движка
func (h *WebSocketHandler) unregisterClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if !ok {
		return
	}

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.close()
	metrics.WebSocketConnections.Dec()
	h.logger.WithField("client_id", c.id).Info("WebSocket client disconnected")
}

// CloseAll закрывает все соединения
func (h *WebSocketHandler) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregisterClient(c)
	}
}

// ClientCount возвращает число подключенных клиентов
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
