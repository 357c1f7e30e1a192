package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ComicDetServer/container"
	"ComicDetServer/filehash"
	"ComicDetServer/imagecodec"
	"ComicDetServer/pipeline"
	"ComicDetServer/task"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errNoTask  = errors.New("no such task")
	errAborted = errors.New("task aborted")
)

type bookRequest struct {
	Path string `json:"path" binding:"required"`
}

type pageQuery struct {
	Path   string `form:"path" binding:"required"`
	Pos    *int   `form:"pos" binding:"required"`
	Width  int    `form:"width"`
	Height int    `form:"height"`
}

// run executes work on the pool and waits for it. The task is cancelled
// when the client goes away.
func (s *Server) run(ctx context.Context, work func(*task.Task) error) error {
	if !s.pool.Accepting() {
		return task.ErrPoolClosed
	}
	ran := false
	err := errAborted
	h := s.pool.Spawn(func(t *task.Task) {
		ran = true
		err = work(t)
	})
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Close()
		<-h.Done()
	}
	if !ran {
		return task.ErrPoolClosed
	}
	return err
}

// taskContext is cancelled together with t.
func taskContext(t *task.Task) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-t.Cancelled():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func withContainer(path string, fn func(container.Container) error) error {
	c, err := container.OpenPath(path)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func (s *Server) inspect(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var (
		format  string
		entries []container.Entry
	)
	err := s.run(c.Request.Context(), func(t *task.Task) error {
		return withContainer(req.Path, func(cont container.Container) error {
			format = cont.Format().String()
			for e, err := range cont.Entries() {
				if err != nil {
					return err
				}
				if err := t.Check(); err != nil {
					return err
				}
				entries = append(entries, e)
			}
			return nil
		})
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"format": format, "entries": entries})
}

func (s *Server) metadata(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var info any
	err := s.run(c.Request.Context(), func(t *task.Task) error {
		return withContainer(req.Path, func(cont container.Container) error {
			ci, err := s.pipe.Metadata(t, cont)
			info = ci
			return err
		})
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) page(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	size := &pipeline.Size{Width: q.Width, Height: q.Height}
	if size.Width == 0 && size.Height == 0 {
		size = &s.thumbnail
	}
	var buf bytes.Buffer
	err := s.run(c.Request.Context(), func(t *task.Task) error {
		return withContainer(q.Path, func(cont container.Container) error {
			img, err := s.pipe.PageImage(t, cont, *q.Pos, size)
			if err != nil {
				return err
			}
			return imagecodec.EncodePNG(&buf, img)
		})
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) hash(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var res filehash.Result
	err := s.run(c.Request.Context(), func(t *task.Task) error {
		f, err := os.Open(req.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		res, err = filehash.Sum(t, f)
		return err
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"size": res.Size, "blake2b": res.Hex()})
}

func (s *Server) submit(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.pool.Accepting() {
		s.fail(c, task.ErrPoolClosed)
		return
	}
	j := newJob(req.Path)
	h := s.pool.Spawn(func(t *task.Task) {
		j.update(func(snap *Snapshot) { snap.State = Running })
		book, err := s.process(t, req.Path)
		j.update(func(snap *Snapshot) {
			switch {
			case err == nil:
				snap.State = Done
				snap.Result = book
			case errors.Is(err, task.ErrCancelled):
				snap.State = Cancelled
			default:
				snap.State = Failed
				snap.Error = err.Error()
			}
		})
	})
	s.jobs.register(j, h)
	s.log.Info("task submitted", zap.String("taskID", h.ID()), zap.String("path", req.Path))
	snap, _ := j.snapshot()
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) process(t *task.Task, path string) (*pipeline.Book, error) {
	ctx, cancel := taskContext(t)
	defer cancel()
	var book *pipeline.Book
	err := withContainer(path, func(cont container.Container) error {
		var err error
		book, err = s.pipe.Process(ctx, t, cont, s.backend, s.decoder)
		return err
	})
	if err != nil && t.Check() != nil {
		return nil, task.ErrCancelled
	}
	return book, err
}

func (s *Server) status(c *gin.Context) {
	j, ok := s.jobs.get(c.Param("id"))
	if !ok {
		s.fail(c, errNoTask)
		return
	}
	snap, _ := j.snapshot()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancel(c *gin.Context) {
	j, ok := s.jobs.get(c.Param("id"))
	if !ok {
		s.fail(c, errNoTask)
		return
	}
	j.cancel()
	snap, _ := j.snapshot()
	c.JSON(http.StatusAccepted, snap)
}

// watch streams job snapshots over a websocket until the job settles.
func (s *Server) watch(c *gin.Context) {
	j, ok := s.jobs.get(c.Param("id"))
	if !ok {
		s.fail(c, errNoTask)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		snap, changed := j.snapshot()
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		if snap.State.Terminal() {
			break
		}
		select {
		case <-changed:
		case <-gone:
			return
		}
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
}
