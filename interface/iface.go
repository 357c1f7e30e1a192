package iface

import (
	"context"

	"ComicDetServer/ml"
)

// Backend runs the detection model: tensor in, tensor out. Implementations
// must accept partial batches and may return padding rows past BatchSize.
type Backend interface {
	Infer(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error)
	Info() EngineInfo
	Close() error
}
