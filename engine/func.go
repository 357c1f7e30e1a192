package engine

import (
	"context"

	iface "ComicDetServer/interface"
	"ComicDetServer/ml"
)

// Func adapts a plain function to iface.Backend.
type Func struct {
	Name  string
	Model ml.ModelConfig
	Fn    func(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error)
}

func (f *Func) Infer(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error) {
	return f.Fn(ctx, in)
}

func (f *Func) Info() iface.EngineInfo {
	return iface.EngineInfo{Name: f.Name, Anchors: f.Model.AnchorCount(), Values: f.Model.ValuesPerAnchor()}
}

func (f *Func) Close() error {
	return nil
}

// Blank answers every batch with a tensor where each anchor is certain
// background, so nothing is detected. It lets extraction run without an
// inference server.
func Blank(model ml.ModelConfig) *Func {
	return &Func{
		Name:  "blank",
		Model: model,
		Fn: func(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			values := model.ValuesPerAnchor()
			content := make([]float32, in.Shape.Batch*model.AnchorCount()*values)
			for i := 0; i < len(content); i += values {
				content[i] = 1
			}
			return &ml.InterpreterOutput{
				Positions: in.Positions,
				Names:     in.Names,
				Content:   content,
				Anchors:   model.AnchorCount(),
				Values:    values,
			}, nil
		},
	}
}
