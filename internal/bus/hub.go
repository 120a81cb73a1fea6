package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/printqd/printqd/internal/logger"
)

// Frame is one outbound event as seen by a connected peer.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ClientConn is a connected operator UI.
type ClientConn struct {
	ID       uuid.UUID
	Outbound chan Frame
}

// PrinterConn is a connected printer with its session key.
type PrinterConn struct {
	PrinterID int64
	SessionID string
	Outbound  chan Frame
}

const outboundBuffer = 32

// Hub fans domain events out to the two audiences: broadcast to
// clients, point-to-point to printers. An optional redis back-plane
// mirrors client broadcasts across processes; printer delivery is
// always local because a printer holds exactly one connection.
type Hub struct {
	mu        sync.RWMutex
	log       *logger.Logger
	clients   map[*ClientConn]bool
	printers  map[int64]*PrinterConn
	backplane *Backplane
	originID  string
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:      log.With("component", "hub"),
		clients:  make(map[*ClientConn]bool),
		printers: make(map[int64]*PrinterConn),
		originID: uuid.NewString(),
	}
}

// UseBackplane wires a redis back-plane and starts forwarding remote
// broadcasts to local clients.
func (h *Hub) UseBackplane(ctx context.Context, bp *Backplane) error {
	h.backplane = bp
	return bp.StartForwarder(ctx, func(env Envelope) {
		if env.Origin == h.originID {
			return
		}
		h.localBroadcast(Frame{Event: env.Event, Data: env.Data})
	})
}

func (h *Hub) AttachClient() *ClientConn {
	c := &ClientConn{
		ID:       uuid.New(),
		Outbound: make(chan Frame, outboundBuffer),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Debug("client attached", "client_id", c.ID)
	return c
}

func (h *Hub) DetachClient(c *ClientConn) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.Outbound)
	}
	h.mu.Unlock()
	h.log.Debug("client detached", "client_id", c.ID)
}

// AttachPrinter registers the printer's single connection. An
// existing connection for the same printer is closed first.
func (h *Hub) AttachPrinter(printerID int64, sessionID string) *PrinterConn {
	conn := &PrinterConn{
		PrinterID: printerID,
		SessionID: sessionID,
		Outbound:  make(chan Frame, outboundBuffer),
	}
	h.mu.Lock()
	if prev, ok := h.printers[printerID]; ok {
		close(prev.Outbound)
	}
	h.printers[printerID] = conn
	h.mu.Unlock()
	h.log.Debug("printer attached", "printer_id", printerID)
	return conn
}

// DetachPrinter removes the connection if it is still the active one.
func (h *Hub) DetachPrinter(conn *PrinterConn) {
	h.mu.Lock()
	if cur, ok := h.printers[conn.PrinterID]; ok && cur == conn {
		delete(h.printers, conn.PrinterID)
		close(cur.Outbound)
	}
	h.mu.Unlock()
	h.log.Debug("printer detached", "printer_id", conn.PrinterID)
}

// BroadcastClients delivers the event to every connected client, and
// to other processes over the back-plane when one is configured.
func (h *Hub) BroadcastClients(event string, payload interface{}) {
	frame := Frame{Event: event, Data: payload}
	h.localBroadcast(frame)

	if h.backplane != nil {
		if err := h.backplane.Publish(context.Background(), Envelope{
			Origin: h.originID,
			Event:  event,
			Data:   payload,
		}); err != nil {
			h.log.Warn("backplane publish failed", "event", event, "error", err)
		}
	}
}

func (h *Hub) localBroadcast(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.Outbound <- frame:
		default:
			h.log.Warn("client outbound full, dropping event", "client_id", c.ID, "event", frame.Event)
		}
	}
}

// SendToPrinter delivers an event to one printer. A printer that is
// not connected misses the event; the reconnect contract recovers it.
func (h *Hub) SendToPrinter(printerID int64, event string, payload interface{}) {
	h.mu.RLock()
	conn, ok := h.printers[printerID]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("printer not connected, dropping event", "printer_id", printerID, "event", event)
		return
	}
	select {
	case conn.Outbound <- Frame{Event: event, Data: payload}:
	default:
		h.log.Warn("printer outbound full, dropping event", "printer_id", printerID, "event", event)
	}
}

// DropPrinterSession closes the connection bound to a superseded
// session key.
func (h *Hub) DropPrinterSession(printerID int64, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn, ok := h.printers[printerID]; ok && conn.SessionID == sessionID {
		delete(h.printers, printerID)
		close(conn.Outbound)
		h.log.Info("printer session dropped", "printer_id", printerID)
	}
}
