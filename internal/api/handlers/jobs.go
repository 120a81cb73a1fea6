package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/printqd/printqd/internal/api/middleware"
	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
	"github.com/printqd/printqd/internal/storage"
)

type ListJobsQuery struct {
	ID              *int64 `form:"id"`
	State           string `form:"state"`
	FileID          *int64 `form:"file_id"`
	UserID          *int64 `form:"user_id"`
	Name            string `form:"name"`
	CanBePrinted    *bool  `form:"can_be_printed"`
	OrderByPriority bool   `form:"order_by_priority"`
}

type UpdateJobRequest struct {
	Name string `json:"name"`
}

type ReorderJobRequest struct {
	PreviousJobID *int64 `json:"previous_job_id"`
}

type JobHandler struct {
	store      *db.Store
	queue      *core.Queue
	dispatcher *core.Dispatcher
	storage    *storage.Storage
	events     core.Events
	clock      core.Clock
	log        *logger.Logger
}

func NewJobHandler(store *db.Store, queue *core.Queue, dispatcher *core.Dispatcher, st *storage.Storage, events core.Events, clock core.Clock, log *logger.Logger) *JobHandler {
	return &JobHandler{
		store:      store,
		queue:      queue,
		dispatcher: dispatcher,
		storage:    st,
		events:     events,
		clock:      clock,
		log:        log.With("component", "jobs_handler"),
	}
}

// ownJob loads the job and enforces ownership for non-admin users.
func (h *JobHandler) ownJob(c *gin.Context, id int64) (*db.Job, bool) {
	job, err := h.store.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return nil, false
	}
	ident := middleware.GetIdentity(c)
	if ident != nil && !ident.IsAdmin && job.UserID != ident.UserID {
		c.JSON(http.StatusNotFound, errorBody{Message: "Not found."})
		return nil, false
	}
	return job, true
}

// ListJobs answers the filtered query. A query by id returns a single
// object and 404s when it misses.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "Invalid filter.", fieldError("query", err.Error()))
		return
	}

	filter := db.JobFilter{
		ID:              query.ID,
		State:           query.State,
		FileID:          query.FileID,
		UserID:          query.UserID,
		Name:            query.Name,
		CanBePrinted:    query.CanBePrinted,
		OrderByPriority: query.OrderByPriority,
	}

	ident := middleware.GetIdentity(c)
	if ident != nil && !ident.IsAdmin {
		filter.UserID = &ident.UserID
	}

	jobs, err := h.store.Jobs.List(c.Request.Context(), filter)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	if query.ID != nil {
		if len(jobs) == 0 {
			c.JSON(http.StatusNotFound, errorBody{Message: "Not found."})
			return
		}
		c.JSON(http.StatusOK, jobs[0])
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// CreateJob accepts a multipart upload with a job name and the g-code
// file. The stored blob is removed again when the rows cannot be
// created.
func (h *JobHandler) CreateJob(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		badRequest(c, "Job name is required.", fieldError("name", "is required"))
		return
	}
	fileHeader, err := c.FormFile("gcode")
	if err != nil {
		badRequest(c, "G-code file is required.", fieldError("gcode", "is required"))
		return
	}

	upload, err := fileHeader.Open()
	if err != nil {
		badRequest(c, "G-code file is unreadable.", fieldError("gcode", err.Error()))
		return
	}
	defer upload.Close()

	storagePath, err := h.storage.Save(upload)
	if err != nil {
		h.log.Error("failed to store upload", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Message: "Failed to store the uploaded file."})
		return
	}

	ident := middleware.GetIdentity(c)

	var job *db.Job
	err = h.store.WithTx(c.Request.Context(), func(tx *db.Store) error {
		file := &db.File{
			OwnerUserID: ident.UserID,
			LogicalName: fileHeader.Filename,
			StoragePath: storagePath,
		}
		if err := tx.Files.Create(c.Request.Context(), file); err != nil {
			return err
		}
		job = &db.Job{
			State:  string(core.JobCreated),
			FileID: file.ID,
			UserID: ident.UserID,
			Name:   name,
		}
		return tx.Jobs.Create(c.Request.Context(), job)
	})
	if err != nil {
		if rmErr := h.storage.Remove(storagePath); rmErr != nil {
			h.log.Error("failed to remove orphaned upload", "path", storagePath, "error", rmErr)
		}
		if errors.Is(err, db.ErrUniqueConstraint) {
			c.JSON(http.StatusConflict, errorBody{Message: "A job with this name already exists."})
			return
		}
		fail(c, h.log, err)
		return
	}

	h.events.BroadcastClients(core.EventJobsUpdated, nil)
	c.JSON(http.StatusCreated, job)
}

// ListNotDone returns every job not yet in Done.
func (h *JobHandler) ListNotDone(c *gin.Context) {
	orderByPriority, _ := strconv.ParseBool(c.Query("order_by_priority"))
	jobs, err := h.store.Jobs.ListNotDone(c.Request.Context(), orderByPriority)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	job, ok := h.ownJob(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

// UpdateJob renames the job.
func (h *JobHandler) UpdateJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateJobRequest
	if !bindStrict(c, &req) {
		return
	}
	if req.Name == "" {
		badRequest(c, "Job name is required.", fieldError("name", "is required"))
		return
	}

	job, ok := h.ownJob(c, id)
	if !ok {
		return
	}

	if err := h.store.Jobs.Rename(c.Request.Context(), id, req.Name, h.clock.Now().UTC()); err != nil {
		if errors.Is(err, db.ErrUniqueConstraint) {
			c.JSON(http.StatusConflict, errorBody{Message: "A job with this name already exists."})
			return
		}
		fail(c, h.log, err)
		return
	}
	job.Name = req.Name

	h.events.BroadcastClients(core.EventJobsUpdated, nil)
	c.JSON(http.StatusOK, job)
}

// DeleteJob removes the job. Its file is removed too when delete_file
// is not explicitly false and no other job references it.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	deleteFile := true
	if v := c.Query("delete_file"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "Invalid delete_file.", fieldError("delete_file", "must be a boolean"))
			return
		}
		deleteFile = parsed
	}

	job, ok := h.ownJob(c, id)
	if !ok {
		return
	}
	if core.JobState(job.State) == core.JobPrinting {
		c.JSON(http.StatusConflict, errorBody{Message: "Cannot delete a job that is printing."})
		return
	}

	var removePath string
	err := h.store.WithTx(c.Request.Context(), func(tx *db.Store) error {
		if err := tx.Jobs.Delete(c.Request.Context(), id); err != nil {
			return err
		}
		if !deleteFile {
			return nil
		}
		count, err := tx.Jobs.CountByFile(c.Request.Context(), job.FileID)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		file, err := tx.Files.GetByID(c.Request.Context(), job.FileID)
		if err != nil {
			return err
		}
		removePath = file.StoragePath
		return tx.Files.Delete(c.Request.Context(), file.ID)
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}

	if removePath != "" {
		if err := h.storage.Remove(removePath); err != nil {
			h.log.Error("failed to remove stored file", "path", removePath, "error", err)
		}
	}

	h.events.BroadcastClients(core.EventJobsUpdated, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Job deleted."})
}

// ReorderJob places the job right after previous_job_id in the queue;
// -1 moves it to the head.
func (h *JobHandler) ReorderJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ReorderJobRequest
	if !bindStrict(c, &req) {
		return
	}
	if req.PreviousJobID == nil {
		badRequest(c, "previous_job_id is required.", fieldError("previous_job_id", "is required"))
		return
	}

	if _, ok := h.ownJob(c, id); !ok {
		return
	}

	var pivot *int64
	if *req.PreviousJobID != -1 {
		pivot = req.PreviousJobID
	}

	if err := h.queue.ReorderAfter(c.Request.Context(), id, pivot); err != nil {
		fail(c, h.log, err)
		return
	}

	job, err := h.store.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	h.events.BroadcastClients(core.EventJobsUpdated, nil)
	c.JSON(http.StatusOK, job)
}

// ReprintJob re-enqueues a Done job at the tail of the queue.
func (h *JobHandler) ReprintJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, ok := h.ownJob(c, id); !ok {
		return
	}

	job, err := h.queue.EnqueueTail(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if err := h.dispatcher.OnJobEnqueued(c.Request.Context(), job.ID); err != nil {
		h.log.Error("post-reprint assignment failed", "job_id", job.ID, "error", err)
	}

	h.events.BroadcastClients(core.EventJobsUpdated, nil)
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/not_done", h.ListNotDone)
	r.GET("/jobs/:id", h.GetJob)
	r.PUT("/jobs/:id", h.UpdateJob)
	r.DELETE("/jobs/:id", h.DeleteJob)
	r.PUT("/jobs/:id/reorder", h.ReorderJob)
	r.PUT("/jobs/:id/reprint", h.ReprintJob)
}
