// Package httpapi exposes the dependency and migration engines over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sandeepkv93/tasklane/internal/dependency"
	"github.com/sandeepkv93/tasklane/internal/migrate"
	"github.com/sandeepkv93/tasklane/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// OwnerHeader carries the caller's owner id on every task route.
const OwnerHeader = "X-Owner-ID"

const ownerKey = "tasklane_owner"

type TaskService interface {
	CreateTask(ctx context.Context, owner string, in dependency.CreateTaskInput, now time.Time) (model.Task, error)
	LinkBlocker(ctx context.Context, owner, taskID string, b model.Blocker, now time.Time) error
	UnlinkBlocker(ctx context.Context, owner, taskID string, b model.Blocker) error
	SetCompleted(ctx context.Context, owner, taskID string, completed bool, now time.Time) error
	ListOutstandingBlockers(ctx context.Context, owner, taskID string, now time.Time) (model.Blockers, error)
	GetTaskView(ctx context.Context, owner, taskID string, now time.Time) (dependency.TaskView, error)
	ListTasks(ctx context.Context, owner string, filter dependency.ListTasksFilter, now time.Time) ([]dependency.TaskView, error)
}

type Migrator interface {
	Run(ctx context.Context, pass migrate.Pass, now time.Time, opts migrate.Options) (migrate.Report, error)
	RunAll(ctx context.Context, now time.Time, opts migrate.Options) ([]migrate.Report, error)
}

type Deps struct {
	Tasks    TaskService
	Migrator Migrator
	Logger   *slog.Logger
	// Now defaults to time.Now.
	Now            func() time.Time
	RequestTimeout time.Duration
}

type handlers struct {
	tasks    TaskService
	migrator Migrator
	logger   *slog.Logger
	now      func() time.Time
}

func NewRouter(deps Deps) *gin.Engine {
	h := &handlers{tasks: deps.Tasks, migrator: deps.Migrator, logger: deps.Logger, now: deps.Now}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	if h.now == nil {
		h.now = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("tasklane"), requestLogger(h.logger))
	if deps.RequestTimeout > 0 {
		router.Use(requestTimeout(deps.RequestTimeout))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		tasks := v1.Group("/tasks", requireOwner())
		{
			tasks.POST("", h.createTask)
			tasks.GET("", h.listTasks)
			tasks.GET("/:id", h.getTask)
			tasks.GET("/:id/blockers/outstanding", h.outstandingBlockers)
			tasks.POST("/:id/blockers", h.linkBlocker)
			tasks.DELETE("/:id/blockers", h.unlinkBlocker)
			tasks.PUT("/:id/completed", h.setCompleted)
		}
		v1.POST("/migrations/:pass", h.runMigration)
	}
	return router
}

func requireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetHeader(OwnerHeader)
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + OwnerHeader + " header"})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerOf(c *gin.Context) string {
	return c.GetString(ownerKey)
}

func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("route", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
