package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sandeepkv93/tasklane/internal/dependency"
	"github.com/sandeepkv93/tasklane/internal/migrate"
	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/sandeepkv93/tasklane/internal/storage"
)

var errBadRequest = errors.New("httpapi: bad request")

type createTaskRequest struct {
	Text         string         `json:"text" binding:"required,max=4096"`
	Project      string         `json:"project"`
	Blockers     model.Blockers `json:"blockers"`
	BlockedUntil *time.Time     `json:"blocked_until"`
}

type setCompletedRequest struct {
	Completed *bool `json:"completed" binding:"required"`
}

func (h *handlers) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	task, err := h.tasks.CreateTask(c.Request.Context(), ownerOf(c), dependency.CreateTaskInput{
		Text:         req.Text,
		Project:      req.Project,
		Blockers:     req.Blockers,
		BlockedUntil: req.BlockedUntil,
	}, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *handlers) listTasks(c *gin.Context) {
	filter := dependency.ListTasksFilter{Project: c.Query("project")}
	if raw := c.Query("actionable"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: actionable must be a boolean", errBadRequest))
			return
		}
		filter.Actionable = &v
	}
	if raw := c.Query("include_completed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: include_completed must be a boolean", errBadRequest))
			return
		}
		filter.IncludeCompleted = v
	}
	views, err := h.tasks.ListTasks(c.Request.Context(), ownerOf(c), filter, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	if views == nil {
		views = []dependency.TaskView{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}

func (h *handlers) getTask(c *gin.Context) {
	view, err := h.tasks.GetTaskView(c.Request.Context(), ownerOf(c), c.Param("id"), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) outstandingBlockers(c *gin.Context) {
	blockers, err := h.tasks.ListOutstandingBlockers(c.Request.Context(), ownerOf(c), c.Param("id"), h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	if blockers == nil {
		blockers = model.Blockers{}
	}
	c.JSON(http.StatusOK, gin.H{"blockers": blockers})
}

func (h *handlers) linkBlocker(c *gin.Context) {
	b, err := readBlocker(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.tasks.LinkBlocker(c.Request.Context(), ownerOf(c), c.Param("id"), b, h.now()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) unlinkBlocker(c *gin.Context) {
	b, err := readBlocker(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.tasks.UnlinkBlocker(c.Request.Context(), ownerOf(c), c.Param("id"), b); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) setCompleted(c *gin.Context) {
	var req setCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := h.tasks.SetCompleted(c.Request.Context(), ownerOf(c), c.Param("id"), *req.Completed, h.now()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// runMigration runs one pass, or every pass for "all", across all users.
func (h *handlers) runMigration(c *gin.Context) {
	opts := migrate.Options{}
	if raw := c.Query("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: dry_run must be a boolean", errBadRequest))
			return
		}
		opts.DryRun = v
	}

	name := c.Param("pass")
	if name == "all" {
		reports, err := h.migrator.RunAll(c.Request.Context(), h.now(), opts)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports})
		return
	}
	pass, err := migrate.ParsePass(name)
	if err != nil {
		h.fail(c, err)
		return
	}
	report, err := h.migrator.Run(c.Request.Context(), pass, h.now(), opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func readBlocker(c *gin.Context) (model.Blocker, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	b, err := model.UnmarshalBlocker(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return b, nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dependency.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dependency.ErrDuplicateBlocker), errors.Is(err, storage.ErrNameConflict):
		return http.StatusConflict
	case errors.Is(err, dependency.ErrBlockerTargetMissing), errors.Is(err, dependency.ErrCrossProjectBlocker):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest),
		errors.Is(err, dependency.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidBlocker),
		errors.Is(err, model.ErrInvalidTask),
		errors.Is(err, migrate.ErrUnknownPass):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
