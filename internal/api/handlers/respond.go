package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// fail maps a domain error to its status code.
func fail(c *gin.Context, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Message: "Not found."})
	case errors.Is(err, db.ErrUniqueConstraint):
		c.JSON(http.StatusConflict, errorBody{Message: err.Error()})
	case errors.Is(err, core.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorBody{Message: err.Error()})
	case errors.Is(err, core.ErrNotAnalyzed):
		c.JSON(http.StatusConflict, errorBody{Message: err.Error()})
	default:
		log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Message: "Internal server error."})
	}
}

func badRequest(c *gin.Context, message string, fields map[string][]string) {
	c.JSON(http.StatusBadRequest, errorBody{Message: message, Errors: fields})
}

func fieldError(field, problem string) map[string][]string {
	return map[string][]string{field: {problem}}
}

// bindStrict decodes the JSON body into v, rejecting unknown fields.
// Reports false after writing the 400 response.
func bindStrict(c *gin.Context, v interface{}) bool {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(c, "Invalid request body.", fieldError("body", err.Error()))
		return false
	}
	return true
}

// pathID parses the numeric id path parameter. Reports false after
// writing the 400 response.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid id.", fieldError("id", "must be an integer"))
		return 0, false
	}
	return id, true
}
