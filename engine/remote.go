package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	iface "ComicDetServer/interface"
	"ComicDetServer/logger"
	"ComicDetServer/ml"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("engine closed")

const TimeOutSeconds = 30

// Remote posts batches to an inference server over HTTP.
type Remote struct {
	endpoint string
	model    ml.ModelConfig
	client   *resty.Client

	mu       sync.Mutex
	state    int
	inflight int
}

func NewRemote(endpoint string, timeout time.Duration, model ml.ModelConfig) *Remote {
	if timeout <= 0 {
		timeout = TimeOutSeconds * time.Second
	}
	return &Remote{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   resty.New().SetTimeout(timeout),
		state:    IDLE,
	}
}

func (r *Remote) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == UNREGISTERED {
		return ErrClosed
	}
	r.inflight++
	r.state = BUSY
	return nil
}

func (r *Remote) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	if r.inflight == 0 && r.state == BUSY {
		r.state = IDLE
	}
}

func (r *Remote) State() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Remote) Infer(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}
	defer r.release()

	var body InferResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(InferRequest{Shape: in.Shape, Positions: in.Positions, Names: in.Names, Content: in.Content}).
		SetResult(&body).
		SetError(&body).
		Post(r.endpoint + "/api/infer")
	if err != nil {
		return nil, fmt.Errorf("infer request: %w", err)
	}
	if resp.IsError() {
		logger.Log().Warn("engine returned error",
			zap.String("status", resp.Status()),
			zap.String("error", body.Error))
		return nil, fmt.Errorf("engine returned %s: %s", resp.Status(), body.Error)
	}

	out := &ml.InterpreterOutput{
		Positions: in.Positions,
		Names:     in.Names,
		Content:   body.Content,
		Anchors:   body.Anchors,
		Values:    body.Values,
	}
	if out.Anchors != r.model.AnchorCount() || out.Values != r.model.ValuesPerAnchor() {
		return nil, fmt.Errorf("engine output shape (%d, %d), model expects (%d, %d)",
			out.Anchors, out.Values, r.model.AnchorCount(), r.model.ValuesPerAnchor())
	}
	return out, nil
}

func (r *Remote) Info() iface.EngineInfo {
	return iface.EngineInfo{
		Name:     "remote",
		Endpoint: r.endpoint,
		Anchors:  r.model.AnchorCount(),
		Values:   r.model.ValuesPerAnchor(),
	}
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = UNREGISTERED
	return nil
}
