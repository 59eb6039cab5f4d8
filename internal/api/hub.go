package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradebot-v1/internal/metrics"
	"tradebot-v1/internal/model"
	"tradebot-v1/internal/ringbuf"
)

// DefaultReplaySize is the number of recent envelopes kept for reconnecting
// clients.
const DefaultReplaySize = 500

// Envelope is the WebSocket message wrapping an event.
type Envelope struct {
	Seq     int64           `json:"seq"`
	Type    model.EventType `json:"type"`
	Symbol  string          `json:"symbol,omitempty"`
	TS      time.Time       `json:"ts"`
	Data    any             `json:"data"`
	Initial bool            `json:"initial,omitempty"`
}

type replayEntry struct {
	seq  int64
	data []byte
}

// Hub fans events out to dashboard WebSocket clients. It keeps the latest
// envelope per event type and symbol for clients that connect later, and a
// bounded replay window for clients that reconnect with last_seq.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]Envelope
	replay  *ringbuf.Ring[replayEntry]
	seq     int64
}

// NewHub creates a hub. m may be nil.
func NewHub(m *metrics.Metrics, log *zap.Logger) *Hub {
	return &Hub{
		log:     log.Named("hub"),
		metrics: m,
		clients: make(map[*Client]bool),
		latest:  make(map[string]Envelope),
		replay:  ringbuf.New[replayEntry](DefaultReplaySize),
	}
}

func latestKey(ev model.Event) string {
	if ev.Symbol == "" {
		return string(ev.Type)
	}
	return string(ev.Type) + ":" + ev.Symbol
}

// Emit broadcasts ev to every connected client. Slow clients drop messages
// rather than block the scan loop.
func (h *Hub) Emit(_ context.Context, ev model.Event) {
	h.mu.Lock()
	h.seq++
	env := Envelope{Seq: h.seq, Type: ev.Type, Symbol: ev.Symbol, TS: ev.At, Data: ev.Data}
	data, err := json.Marshal(env)
	if err != nil {
		h.mu.Unlock()
		h.log.Warn("marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	h.latest[latestKey(ev)] = env
	h.replay.Push(replayEntry{seq: env.Seq, data: data})
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
	h.mu.Unlock()
}

// RecordTrade broadcasts a trade event.
func (h *Hub) RecordTrade(rec model.TradeRecord) error {
	h.Emit(context.Background(), model.Event{Type: model.EventTrade, Symbol: rec.Symbol, At: rec.Timestamp, Data: rec})
	return nil
}

// Register attaches conn as a client and starts its pumps. A client that
// passes lastSeq > 0 receives the buffered envelopes after it; others get
// the latest envelope of every type and symbol.
func (h *Hub) Register(conn *websocket.Conn, lastSeq int64) *Client {
	c := &Client{conn: conn, send: make(chan []byte, 256), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.queueInitial(c, lastSeq)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
	h.log.Info("ws client connected", zap.Int("clients", count), zap.Int64("last_seq", lastSeq))

	go c.writePump()
	go c.readPump()
	return c
}

// queueInitial fills c's send buffer. Caller holds mu.
func (h *Hub) queueInitial(c *Client, lastSeq int64) {
	push := func(b []byte) {
		select {
		case c.send <- b:
		default:
		}
	}
	if lastSeq > 0 {
		for _, e := range h.replay.Snapshot() {
			if e.seq > lastSeq {
				push(e.data)
			}
		}
		return
	}
	for _, env := range h.latest {
		env.Initial = true
		if b, err := json.Marshal(env); err == nil {
			push(b)
		}
	}
}

// RemoveClient detaches c and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
	h.log.Info("ws client disconnected", zap.Int("clients", count))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the newest envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.RemoveClient(c)
	}
}
