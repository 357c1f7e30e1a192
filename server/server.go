package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"ComicDetServer/container"
	iface "ComicDetServer/interface"
	"ComicDetServer/logger"
	"ComicDetServer/magic"
	"ComicDetServer/ml"
	"ComicDetServer/monitor"
	"ComicDetServer/pipeline"
	"ComicDetServer/task"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the HTTP face of the worker pool.
type Server struct {
	pool      *task.Pool
	pipe      *pipeline.Pipeline
	backend   iface.Backend
	decoder   *ml.Decoder
	thumbnail pipeline.Size
	jobs      *jobs
	log       *zap.Logger
}

type Options struct {
	Pool      *task.Pool
	Pipeline  *pipeline.Pipeline
	Backend   iface.Backend
	Decoder   *ml.Decoder
	Thumbnail pipeline.Size
}

func New(opts Options) *Server {
	return &Server{
		pool:      opts.Pool,
		pipe:      opts.Pipeline,
		backend:   opts.Backend,
		decoder:   opts.Decoder,
		thumbnail: opts.Thumbnail,
		jobs:      newJobs(),
		log:       logger.Named("server"),
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "engine": s.backend.Info(), "workers": s.pool.Workers()})
	})

	books := r.Group("/api/books")
	books.POST("/inspect", s.inspect)
	books.POST("/metadata", s.metadata)
	books.GET("/page", s.page)
	books.POST("/hash", s.hash)

	r.POST("/api/tasks", s.submit)
	r.GET("/api/tasks/:id", s.status)
	r.DELETE("/api/tasks/:id", s.cancel)
	r.GET("/ws/tasks/:id", s.watch)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		monitor.HTTPTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)))
	}
}

// Run serves on port until ctx is done, then cancels every job.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.jobs.cancelAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// statusOf maps error kinds to HTTP status codes.
func statusOf(err error) int {
	var ce *container.Error
	switch {
	case errors.Is(err, task.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict
	case errors.Is(err, container.ErrUnsupported), errors.Is(err, magic.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrCantFind), errors.Is(err, pipeline.ErrNoMetadata),
		errors.Is(err, container.ErrNoEntry), errors.Is(err, fs.ErrNotExist), errors.Is(err, errNoTask):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrImage), errors.Is(err, pipeline.ErrEmptyEntry),
		errors.Is(err, pipeline.ErrNoPages), errors.As(err, &ce):
		return http.StatusUnprocessableEntity
	case errors.Is(err, task.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
