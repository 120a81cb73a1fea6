package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/printqd/printqd/internal/api/middleware"
	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

type RegisterPrinterRequest struct {
	Name          string `json:"name"`
	Serial        string `json:"serial"`
	ModelID       int64  `json:"model_id"`
	ExtruderCount int    `json:"extruder_count"`
}

// RegisterPrinterResponse carries the API key in the clear; only the
// digest is stored, so this is the one chance to read it.
type RegisterPrinterResponse struct {
	Printer *db.Printer `json:"printer"`
	APIKey  string      `json:"api_key"`
}

type PrinterHandler struct {
	store *db.Store
	log   *logger.Logger
}

func NewPrinterHandler(store *db.Store, log *logger.Logger) *PrinterHandler {
	return &PrinterHandler{store: store, log: log.With("component", "printers_handler")}
}

// GetPrinter returns the calling printer's own record with its
// extruders.
func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	ident := middleware.GetIdentity(c)
	p, err := h.store.Printers.GetByID(c.Request.Context(), ident.PrinterID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	extruders, err := h.store.Printers.Extruders(c.Request.Context(), p.ID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	p.Extruders = extruders
	c.JSON(http.StatusOK, p)
}

func (h *PrinterHandler) ListMaterials(c *gin.Context) {
	materials, err := h.store.Catalog.ListMaterials(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, materials)
}

func (h *PrinterHandler) ListExtruderTypes(c *gin.Context) {
	types, err := h.store.Catalog.ListExtruderTypes(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, types)
}

// ListPrinters returns the whole fleet for operator UIs.
func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers, err := h.store.Printers.List(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	for _, p := range printers {
		extruders, err := h.store.Printers.Extruders(c.Request.Context(), p.ID)
		if err != nil {
			fail(c, h.log, err)
			return
		}
		p.Extruders = extruders
	}
	c.JSON(http.StatusOK, printers)
}

// RegisterPrinter creates a printer with a fresh API key.
func (h *PrinterHandler) RegisterPrinter(c *gin.Context) {
	var req RegisterPrinterRequest
	if !bindStrict(c, &req) {
		return
	}
	fields := make(map[string][]string)
	if req.Name == "" {
		fields["name"] = append(fields["name"], "is required")
	}
	if req.Serial == "" {
		fields["serial"] = append(fields["serial"], "is required")
	}
	if req.ModelID == 0 {
		fields["model_id"] = append(fields["model_id"], "is required")
	}
	if req.ExtruderCount <= 0 {
		fields["extruder_count"] = append(fields["extruder_count"], "must be positive")
	}
	if len(fields) > 0 {
		badRequest(c, "Invalid printer.", fields)
		return
	}

	apiKey := uuid.NewString()
	p := &db.Printer{
		ModelID:      req.ModelID,
		Name:         req.Name,
		Serial:       req.Serial,
		APIKeyDigest: middleware.APIKeyDigest(apiKey),
	}
	err := h.store.Printers.Create(c.Request.Context(), p, core.PrinterOffline, req.ExtruderCount)
	if err != nil {
		if errors.Is(err, db.ErrUniqueConstraint) {
			c.JSON(http.StatusConflict, errorBody{Message: "A printer with this name or serial already exists."})
			return
		}
		fail(c, h.log, err)
		return
	}

	h.log.Info("printer registered", "printer_id", p.ID, "serial", p.Serial)
	c.JSON(http.StatusCreated, RegisterPrinterResponse{Printer: p, APIKey: apiKey})
}

func (h *PrinterHandler) RegisterRoutes(printers, users, admin *gin.RouterGroup) {
	printers.GET("/printer", h.GetPrinter)
	printers.GET("/printer/materials", h.ListMaterials)
	printers.GET("/printer/extruder_types", h.ListExtruderTypes)
	users.GET("/printers", h.ListPrinters)
	admin.POST("/printers", h.RegisterPrinter)
}
