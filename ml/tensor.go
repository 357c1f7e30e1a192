package ml

import "fmt"

// InputShape is (batch, height, width, channels), row-major.
type InputShape struct {
	Batch    int `json:"batch"`
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

func (s InputShape) ImageLen() int {
	return s.Height * s.Width * s.Channels
}

func (s InputShape) Len() int {
	return s.Batch * s.ImageLen()
}

func (s InputShape) Validate() error {
	if s.Batch <= 0 || s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("input shape %v must be positive", s)
	}
	if s.Channels < 1 || s.Channels > 4 {
		return fmt.Errorf("input channels %d outside 1..4", s.Channels)
	}
	return nil
}

// InterpreterInput is one batch of page images. Content always holds
// Shape.Batch images; only the first len(Positions) are populated and the
// rest are zero.
type InterpreterInput struct {
	Positions []int      `json:"positions"`
	Names     []string   `json:"names"`
	Content   []float32  `json:"content"`
	Shape     InputShape `json:"shape"`
}

func NewInterpreterInput(shape InputShape) *InterpreterInput {
	return &InterpreterInput{
		Positions: make([]int, 0, shape.Batch),
		Names:     make([]string, 0, shape.Batch),
		Content:   make([]float32, shape.Len()),
		Shape:     shape,
	}
}

func (in *InterpreterInput) BatchSize() int {
	return len(in.Positions)
}

func (in *InterpreterInput) IsFull() bool {
	return len(in.Positions) >= in.Shape.Batch
}

// Partial reports a batch the consumer has to slice to BatchSize.
func (in *InterpreterInput) Partial() bool {
	return len(in.Positions) < in.Shape.Batch
}

// Slot returns the tensor row of the next image to add.
func (in *InterpreterInput) Slot() []float32 {
	n := in.Shape.ImageLen()
	i := len(in.Positions)
	return in.Content[i*n : (i+1)*n]
}

func (in *InterpreterInput) Add(pos int, name string) {
	in.Positions = append(in.Positions, pos)
	in.Names = append(in.Names, name)
}

// InterpreterOutput is the raw model output for one InterpreterInput, shaped
// (batch, anchors, values). Rows past len(Positions) are padding.
type InterpreterOutput struct {
	Positions []int     `json:"positions"`
	Names     []string  `json:"names"`
	Content   []float32 `json:"content"`
	Anchors   int       `json:"anchors"`
	Values    int       `json:"values"`
}

func (out *InterpreterOutput) row(i int) []float32 {
	n := out.Anchors * out.Values
	return out.Content[i*n : (i+1)*n]
}
