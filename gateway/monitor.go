// Package gateway serves a WebSocket endpoint broadcasting live pipeline
// events and status to connected monitoring clients (dashboards, debug
// tooling). It is strictly observe-only: clients cannot influence the
// conversion engine.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/makewise-vision/libcamera-raspberrypi/metric"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
)

// Status is the pipeline snapshot sent to every client on connect.
type Status struct {
	State   string `json:"state"`
	Streams int    `json:"streams"`
	Pending int    `json:"pending"`
}

// StatusFunc supplies the current pipeline status. It is called from client
// handler goroutines and must be safe to invoke concurrently; wiring that
// needs the engine's dispatch context must bridge to it internally.
type StatusFunc func() Status

// client tracks one connected monitoring client.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// MonitorDeps holds construction dependencies for the Monitor.
type MonitorDeps struct {
	Status  StatusFunc
	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Monitor broadcasts pipeline events to WebSocket clients.
type Monitor struct {
	status StatusFunc
	logger *slog.Logger

	upgrader  websocket.Upgrader
	clients   map[*client]struct{}
	clientsMu sync.Mutex
	closed    bool

	connectedClients prometheus.Gauge
	messagesSent     prometheus.Counter
	clientsDropped   prometheus.Counter
}

// NewMonitor creates a monitor. Status may be nil, in which case clients
// receive no initial snapshot.
func NewMonitor(deps MonitorDeps) *Monitor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		status:  deps.Status,
		logger:  logger.With("component", "gateway"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Monitoring endpoint, same-origin policy handled upstream
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	m.initMetrics(deps.Metrics)
	return m
}

func (m *Monitor) initMetrics(registry *metric.Registry) {
	if registry == nil {
		return
	}

	m.connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediapipe",
		Subsystem: "gateway",
		Name:      "connected_clients",
		Help:      "Currently connected WebSocket monitoring clients",
	})
	m.messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediapipe",
		Subsystem: "gateway",
		Name:      "messages_sent_total",
		Help:      "Messages broadcast to monitoring clients",
	})
	m.clientsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediapipe",
		Subsystem: "gateway",
		Name:      "clients_dropped_total",
		Help:      "Clients disconnected for not keeping up",
	})

	const serviceName = "gateway"
	if err := registry.RegisterGauge(serviceName, "connected_clients", m.connectedClients); err != nil {
		m.logger.Error("Failed to register gateway metrics", "error", err)
	}
	if err := registry.RegisterCounter(serviceName, "messages_sent", m.messagesSent); err != nil {
		m.logger.Error("Failed to register gateway metrics", "error", err)
	}
	if err := registry.RegisterCounter(serviceName, "clients_dropped", m.clientsDropped); err != nil {
		m.logger.Error("Failed to register gateway metrics", "error", err)
	}
}

// ServeHTTP upgrades the connection and streams events until the client
// disconnects.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	m.clientsMu.Lock()
	if m.closed {
		m.clientsMu.Unlock()
		conn.Close()
		return
	}
	m.clients[c] = struct{}{}
	count := len(m.clients)
	m.clientsMu.Unlock()

	if m.connectedClients != nil {
		m.connectedClients.Set(float64(count))
	}
	m.logger.Info("Monitor client connected", "client", c.id, "remote", r.RemoteAddr)

	// Initial status snapshot so the client starts with the full picture.
	if m.status != nil {
		if data, err := json.Marshal(m.status()); err == nil {
			c.send <- data
		}
	}

	go m.writePump(c)
	m.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (m *Monitor) readPump(c *client) {
	defer m.removeClient(c)

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the client's send channel onto the wire.
func (m *Monitor) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			if m.messagesSent != nil {
				m.messagesSent.Inc()
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast sends a JSON-encoded message to every connected client. Clients
// whose send buffer is full are dropped rather than allowed to stall the
// pipeline.
func (m *Monitor) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("Failed to encode broadcast message", "error", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for c := range m.clients {
		select {
		case c.send <- data:
		default:
			m.logger.Warn("Dropping slow monitor client", "client", c.id)
			delete(m.clients, c)
			close(c.send)
			if m.clientsDropped != nil {
				m.clientsDropped.Inc()
			}
		}
	}

	if m.connectedClients != nil {
		m.connectedClients.Set(float64(len(m.clients)))
	}
}

// ClientCount returns the number of connected clients.
func (m *Monitor) ClientCount() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

func (m *Monitor) removeClient(c *client) {
	m.clientsMu.Lock()
	if _, ok := m.clients[c]; ok {
		delete(m.clients, c)
		close(c.send)
	}
	count := len(m.clients)
	m.clientsMu.Unlock()

	c.conn.Close()
	if m.connectedClients != nil {
		m.connectedClients.Set(float64(count))
	}
	m.logger.Info("Monitor client disconnected", "client", c.id)
}

// Close disconnects all clients. The monitor accepts no new connections
// afterwards.
func (m *Monitor) Close() {
	m.clientsMu.Lock()
	m.closed = true
	for c := range m.clients {
		delete(m.clients, c)
		close(c.send)
	}
	m.clientsMu.Unlock()
}
