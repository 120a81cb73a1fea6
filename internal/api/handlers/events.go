package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/printqd/printqd/internal/api/middleware"
	"github.com/printqd/printqd/internal/bus"
	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/logger"
)

const heartbeatInterval = 25 * time.Second

type EventsHandler struct {
	hub          *bus.Hub
	printerLogic *bus.PrinterLogic
	clientLogic  *bus.ClientLogic
	dispatcher   *core.Dispatcher
	log          *logger.Logger
}

func NewEventsHandler(hub *bus.Hub, pl *bus.PrinterLogic, cl *bus.ClientLogic, dispatcher *core.Dispatcher, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		hub:          hub,
		printerLogic: pl,
		clientLogic:  cl,
		dispatcher:   dispatcher,
		log:          log.With("component", "events_handler"),
	}
}

// writeFrame emits one server-sent event and flushes it.
func writeFrame(c *gin.Context, frame bus.Frame) error {
	payload, err := json.Marshal(frame.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", frame.Event, payload); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func sseHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.Flush()
}

// stream pumps frames from outbound to the response until the peer
// goes away or the channel closes.
func (h *EventsHandler) stream(c *gin.Context, outbound <-chan bus.Frame) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case frame, ok := <-outbound:
			if !ok {
				return
			}
			if err := writeFrame(c, frame); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// ClientStream is the clients audience: every broadcast event.
func (h *EventsHandler) ClientStream(c *gin.Context) {
	sseHeaders(c)
	conn := h.hub.AttachClient()
	defer h.hub.DetachClient(conn)
	h.stream(c, conn.Outbound)
}

// ClientEvent accepts one inbound client frame and answers with the
// matching _done or _error frame.
func (h *EventsHandler) ClientEvent(c *gin.Context) {
	var frame bus.InboundFrame
	if !bindStrict(c, &frame) {
		return
	}
	if frame.Event == "" {
		badRequest(c, "Event name is required.", fieldError("event", "is required"))
		return
	}

	ident := middleware.GetIdentity(c)
	reply := h.clientLogic.Handle(c.Request.Context(), bus.ClientIdentity{
		UserID:  ident.UserID,
		IsAdmin: ident.IsAdmin,
	}, frame)
	c.JSON(http.StatusOK, reply)
}

// PrinterStream is the printers audience. Connecting issues a fresh
// session key, delivered as the first frame; disconnecting marks the
// printer Offline unless the session was superseded.
func (h *EventsHandler) PrinterStream(c *gin.Context) {
	ident := middleware.GetIdentity(c)

	sessionID, err := h.dispatcher.RegisterSession(c.Request.Context(), ident.PrinterID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	sseHeaders(c)
	conn := h.hub.AttachPrinter(ident.PrinterID, sessionID)
	defer func() {
		h.hub.DetachPrinter(conn)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.dispatcher.CloseSession(ctx, ident.PrinterID, sessionID); err != nil {
			h.log.Error("failed to close printer session", "printer_id", ident.PrinterID, "error", err)
		}
	}()

	if err := writeFrame(c, bus.Frame{Event: "session", Data: gin.H{"session_key": sessionID}}); err != nil {
		return
	}
	h.stream(c, conn.Outbound)
}

// PrinterEvent accepts one inbound printer frame. A bad session key is
// a 401; a domain error becomes a _error reply frame.
func (h *EventsHandler) PrinterEvent(c *gin.Context) {
	var frame bus.InboundFrame
	if !bindStrict(c, &frame) {
		return
	}
	if frame.Event == "" {
		badRequest(c, "Event name is required.", fieldError("event", "is required"))
		return
	}

	ident := middleware.GetIdentity(c)
	reply, err := h.printerLogic.Handle(c.Request.Context(), ident.PrinterID, frame)
	if err != nil {
		if errors.Is(err, bus.ErrSessionMismatch) {
			c.JSON(http.StatusUnauthorized, errorBody{Message: "Invalid session key."})
			return
		}
		fail(c, h.log, err)
		return
	}
	if reply == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (h *EventsHandler) RegisterRoutes(users, printers *gin.RouterGroup) {
	users.GET("/events/clients", h.ClientStream)
	users.POST("/events/clients", h.ClientEvent)
	printers.GET("/events/printers", h.PrinterStream)
	printers.POST("/events/printers", h.PrinterEvent)
}
