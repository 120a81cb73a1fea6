package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printqd/printqd/internal/api/middleware"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

type fileFixture struct {
	store   *db.Store
	handler *FileHandler
	file    *db.File
	job     *db.Job
	printer *db.Printer
}

func newFileFixture(t *testing.T) *fileFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Bootstrap(ctx))

	user := &db.User{Username: "operator"}
	require.NoError(t, store.Users.Create(ctx, user))

	file := &db.File{OwnerUserID: user.ID, LogicalName: "bracket.gcode", StoragePath: "/tmp/bracket.gcode"}
	require.NoError(t, store.Files.Create(ctx, file))

	job := &db.Job{FileID: file.ID, UserID: user.ID, Name: "bracket"}
	require.NoError(t, store.Jobs.Create(ctx, job))

	models, err := store.Catalog.ListPrinterModels(ctx)
	require.NoError(t, err)
	printer := &db.Printer{ModelID: models[0].ID, Name: "p1", Serial: "s1", APIKeyDigest: "d1"}
	require.NoError(t, store.Printers.Create(ctx, printer, "Ready", 1))

	return &fileFixture{
		store:   store,
		handler: NewFileHandler(store, nil, logger.NewNop()),
		file:    file,
		job:     job,
		printer: printer,
	}
}

func (f *fileFixture) download(t *testing.T, fileID string, ident *middleware.Identity) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/files/"+fileID, nil)
	c.Params = gin.Params{{Key: "id", Value: fileID}}
	if ident != nil {
		c.Set("identity", ident)
	}
	f.handler.Download(c)
	return w
}

func TestDownloadByAssignedPrinter(t *testing.T) {
	f := newFileFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Jobs.SetAssignedPrinter(ctx, f.job.ID, &f.printer.ID, time.Now().UTC()))

	w := f.download(t, "1", &middleware.Identity{Type: middleware.IdentityPrinter, PrinterID: f.printer.ID})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/files/download/1", w.Header().Get("X-Accel-Redirect"))
	assert.Equal(t, `attachment; filename="bracket.gcode"`, w.Header().Get("Content-Disposition"))
}

func TestDownloadByUnassignedPrinterIsUnauthorized(t *testing.T) {
	f := newFileFixture(t)

	w := f.download(t, "1", &middleware.Identity{Type: middleware.IdentityPrinter, PrinterID: f.printer.ID})

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "This printer can't access to the requested file.", body["message"])
}

func TestDownloadMissingFileIs404(t *testing.T) {
	f := newFileFixture(t)

	w := f.download(t, "999", &middleware.Identity{Type: middleware.IdentityPrinter, PrinterID: f.printer.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadRejectsUserIdentity(t *testing.T) {
	f := newFileFixture(t)

	w := f.download(t, "1", &middleware.Identity{Type: middleware.IdentityUser, UserID: 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFileInfo(t *testing.T) {
	f := newFileFixture(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/files/1/info", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	f.handler.Info(c)

	assert.Equal(t, http.StatusOK, w.Code)

	var body db.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, f.file.ID, body.ID)
	assert.Equal(t, "bracket.gcode", body.LogicalName)
}
