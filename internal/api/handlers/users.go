package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
)

type CreateUserRequest struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

type UserHandler struct {
	store *db.Store
	log   *logger.Logger
}

func NewUserHandler(store *db.Store, log *logger.Logger) *UserHandler {
	return &UserHandler{store: store, log: log.With("component", "users_handler")}
}

func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.store.Users.List(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !bindStrict(c, &req) {
		return
	}
	if req.Username == "" {
		badRequest(c, "Username is required.", fieldError("username", "is required"))
		return
	}

	user := &db.User{Username: req.Username, IsAdmin: req.IsAdmin}
	if err := h.store.Users.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, db.ErrUniqueConstraint) {
			c.JSON(http.StatusConflict, errorBody{Message: "A user with this username already exists."})
			return
		}
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := h.store.Users.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.store.Users.Delete(c.Request.Context(), id); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "User deleted."})
}

func (h *UserHandler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.CreateUser)
	admin.GET("/users/:id", h.GetUser)
	admin.DELETE("/users/:id", h.DeleteUser)
}
