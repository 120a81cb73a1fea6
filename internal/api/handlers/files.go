package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/printqd/printqd/internal/api/middleware"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
	"github.com/printqd/printqd/internal/storage"
)

const printerFileDeniedMessage = "This printer can't access to the requested file."

type FileHandler struct {
	store   *db.Store
	storage *storage.Storage
	log     *logger.Logger
}

func NewFileHandler(store *db.Store, st *storage.Storage, log *logger.Logger) *FileHandler {
	return &FileHandler{store: store, storage: st, log: log.With("component", "files_handler")}
}

// Download hands the g-code to the printer that is assigned to a job
// of this file. The response carries an X-Accel-Redirect so the front
// proxy serves the bytes.
func (h *FileHandler) Download(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	file, err := h.store.Files.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	ident := middleware.GetIdentity(c)
	if ident == nil || ident.Type != middleware.IdentityPrinter {
		c.JSON(http.StatusUnauthorized, errorBody{Message: printerFileDeniedMessage})
		return
	}

	jobs, err := h.store.Jobs.List(c.Request.Context(), db.JobFilter{FileID: &file.ID})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	assigned := false
	for _, job := range jobs {
		if job.AssignedPrinterID != nil && *job.AssignedPrinterID == ident.PrinterID {
			assigned = true
			break
		}
	}
	if !assigned {
		c.JSON(http.StatusUnauthorized, errorBody{Message: printerFileDeniedMessage})
		return
	}

	c.Header("X-Accel-Redirect", fmt.Sprintf("/files/download/%d", file.ID))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.LogicalName))
	c.Status(http.StatusOK)
}

// Info returns the file metadata.
func (h *FileHandler) Info(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	file, err := h.store.Files.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *FileHandler) RegisterRoutes(printers, users *gin.RouterGroup) {
	printers.GET("/files/:id", h.Download)
	users.GET("/files/:id/info", h.Info)
}
