package pipeline

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"ComicDetServer/engine"
	"ComicDetServer/ml"
	"ComicDetServer/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processModel() ml.ModelConfig {
	return ml.ModelConfig{
		BatchSize: 2, Width: 2, Height: 2, Channels: 3,
		ClassCount: 1, GridW: 1, GridH: 1, AnchorsPerGrid: 1,
		AnchorShapes: [][2]float32{{0.5, 0.5}}, Threshold: 0.5,
	}
}

// detectAll marks the single anchor of every populated row as class 0.
func detectAll(model ml.ModelConfig) *engine.Func {
	return &engine.Func{Name: "test", Model: model, Fn: func(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error) {
		values := model.ValuesPerAnchor()
		out := &ml.InterpreterOutput{
			Positions: in.Positions,
			Names:     in.Names,
			Content:   make([]float32, in.Shape.Batch*values),
			Anchors:   1,
			Values:    values,
		}
		for i := 0; i < in.BatchSize(); i++ {
			out.Content[i*values+1] = 0.9
		}
		return out, nil
	}}
}

func bookFiles(t *testing.T) []file {
	red := color.RGBA{R: 255, A: 255}
	return []file{
		pngFile(t, "p2.png", 4, 4, red),
		pngFile(t, "p0.png", 4, 4, red),
		{"ComicInfo.xml", []byte(comicInfoXML)},
		{"broken.png", []byte("xx")},
		pngFile(t, "p1.png", 4, 4, red),
	}
}

func TestProcess(t *testing.T) {
	model := processModel()
	dec, err := ml.NewDecoder(model)
	require.NoError(t, err)

	var batches int
	p := newPipeline()
	p.hooks.BatchInferred = func(int, error) { batches++ }
	book, err := p.Process(context.Background(), liveTask(), openZip(t, bookFiles(t)...), detectAll(model), dec)
	require.NoError(t, err)

	require.Len(t, book.Pages, 3)
	assert.Equal(t, "p0.png", book.Pages[0].PageName)
	assert.Equal(t, 1, book.Pages[0].PagePosition)
	assert.Equal(t, "p1.png", book.Pages[1].PageName)
	assert.Equal(t, 4, book.Pages[1].PagePosition)
	assert.Equal(t, "p2.png", book.Pages[2].PageName)
	for _, page := range book.Pages {
		require.Len(t, page.Objects[0], 1)
		assert.InDelta(t, 0.5, page.Objects[0][0].Box.CX, 1e-5)
	}
	require.NotNil(t, book.Info)
	assert.Equal(t, "Ninjak", book.Info.Series)
	// cover is the second page in name order
	assert.Equal(t, 4, book.CoverPosition)
	assert.Equal(t, 1, book.FailedEntries)
	assert.Equal(t, []string{"0"}, book.Classes)
	assert.Equal(t, "zip", book.Format)
	assert.Equal(t, 2, batches)
}

func TestProcess_FailedBatchKeepsPages(t *testing.T) {
	model := processModel()
	dec, err := ml.NewDecoder(model)
	require.NoError(t, err)
	failing := &engine.Func{Model: model, Fn: func(context.Context, *ml.InterpreterInput) (*ml.InterpreterOutput, error) {
		return nil, errors.New("engine down")
	}}

	book, err := newPipeline().Process(context.Background(), liveTask(), openZip(t, bookFiles(t)...), failing, dec)
	require.NoError(t, err)
	require.Len(t, book.Pages, 3)
	for _, page := range book.Pages {
		assert.NotNil(t, page.Objects)
		assert.Zero(t, page.Objects.Count())
	}
}

func TestProcess_NoPages(t *testing.T) {
	model := processModel()
	dec, err := ml.NewDecoder(model)
	require.NoError(t, err)

	_, err = newPipeline().Process(context.Background(), liveTask(),
		openZip(t, file{"ComicInfo.xml", []byte(comicInfoXML)}), engine.Blank(model), dec)
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestProcess_CancelledDuringInference(t *testing.T) {
	model := processModel()
	dec, err := ml.NewDecoder(model)
	require.NoError(t, err)

	tk, h := task.New()
	backend := &engine.Func{Model: model, Fn: func(ctx context.Context, in *ml.InterpreterInput) (*ml.InterpreterOutput, error) {
		h.Close()
		return nil, errors.New("interrupted")
	}}
	book, err := newPipeline().Process(context.Background(), tk, openZip(t, bookFiles(t)...), backend, dec)
	assert.Nil(t, book)
	assert.ErrorIs(t, err, task.ErrCancelled)
}

func TestProcess_OnPool(t *testing.T) {
	model := processModel()
	dec, err := ml.NewDecoder(model)
	require.NoError(t, err)
	pool := task.NewPool(2)
	defer pool.Close()

	var (
		book   *Book
		runErr error
	)
	c := openZip(t, bookFiles(t)...)
	h := pool.Spawn(func(tk *task.Task) {
		book, runErr = newPipeline().Process(context.Background(), tk, c, detectAll(model), dec)
	})
	<-h.Done()
	require.NoError(t, runErr)
	assert.Len(t, book.Pages, 3)
}
