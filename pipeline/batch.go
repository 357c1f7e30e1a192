package pipeline

import (
	"errors"
	"iter"

	"ComicDetServer/container"
	"ComicDetServer/imagecodec"
	"ComicDetServer/ml"
	"ComicDetServer/task"
)

// Batches groups the image entries of c into model input tensors, resized
// exactly to the model size, in native order. The last batch may be partial;
// its unused rows stay zero. Per-entry failures are yielded as *PageError
// with a nil batch.
func (p *Pipeline) Batches(t *task.Task, c container.Container, shape ml.InputShape) iter.Seq2[*ml.InterpreterInput, error] {
	return p.batches(t, c, shape, nil)
}

func (p *Pipeline) batches(t *task.Task, c container.Container, shape ml.InputShape, meta func([]byte)) iter.Seq2[*ml.InterpreterInput, error] {
	return func(yield func(*ml.InterpreterInput, error) bool) {
		if err := shape.Validate(); err != nil {
			yield(nil, err)
			return
		}
		resize := func(img imagecodec.OpenedImage) (imagecodec.OpenedImage, error) {
			return p.codec.Resize(img, shape.Width, shape.Height)
		}

		batch := ml.NewInterpreterInput(shape)
		for page, err := range p.images(t, c, resize, meta) {
			if err != nil {
				var pe *PageError
				if !yield(nil, err) || !errors.As(err, &pe) {
					return
				}
				continue
			}
			fillSlot(batch.Slot(), page.Image, shape.Channels)
			batch.Add(page.Pos, page.Name)
			if batch.IsFull() {
				if err := t.Check(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(batch, nil) {
					return
				}
				batch = ml.NewInterpreterInput(shape)
			}
		}
		if batch.BatchSize() > 0 {
			if err := t.Check(); err != nil {
				yield(nil, err)
				return
			}
			yield(batch, nil)
		}
	}
}

// fillSlot writes img in (h, w, c) order keeping the first channels
// components of each RGBA pixel, as raw 0-255 values.
func fillSlot(dst []float32, img imagecodec.OpenedImage, channels int) {
	for i := 0; i < img.Width*img.Height; i++ {
		src := img.Pix[i*4 : i*4+4]
		for ch := 0; ch < channels; ch++ {
			dst[i*channels+ch] = float32(src[ch])
		}
	}
}
