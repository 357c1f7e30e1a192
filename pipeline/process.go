package pipeline

import (
	"context"
	"errors"
	"sort"

	"ComicDetServer/comicinfo"
	"ComicDetServer/container"
	iface "ComicDetServer/interface"
	"ComicDetServer/ml"
	"ComicDetServer/task"

	"go.uber.org/zap"
)

// Book is the result of processing a whole container. Classes[id] labels
// the class id keys of every page's objects.
type Book struct {
	Format        string                `json:"format"`
	Pages         []ml.ComicPageObjects `json:"pages"`
	Info          *comicinfo.ComicInfo  `json:"info,omitempty"`
	Classes       []string              `json:"classes"`
	CoverPosition int                   `json:"coverPosition"`
	FailedEntries int                   `json:"failedEntries"`
}

// Process runs every page of c through backend and decodes the detections.
// Pages come back sorted by name. A batch the backend fails on keeps its
// pages with empty detections.
func (p *Pipeline) Process(ctx context.Context, t *task.Task, c container.Container, backend iface.Backend, dec *ml.Decoder) (*Book, error) {
	model := dec.Config()
	book := &Book{Format: c.Format().String(), Classes: make([]string, model.ClassCount)}
	for id := range book.Classes {
		book.Classes[id] = model.ClassName(uint32(id))
	}
	meta := func(data []byte) {
		if book.Info != nil {
			return
		}
		info, err := parseMetadata(data)
		if err != nil {
			p.log.Warn("comic info rejected", zap.Error(err))
			return
		}
		book.Info = info
	}

	for batch, err := range p.batches(t, c, model.InputShape(), meta) {
		if err != nil {
			var pe *PageError
			if errors.As(err, &pe) {
				book.FailedEntries++
				continue
			}
			return nil, err
		}
		pages, err := p.infer(ctx, t, batch, backend, dec)
		if err != nil {
			return nil, err
		}
		book.Pages = append(book.Pages, pages...)
	}
	if err := t.Check(); err != nil {
		return nil, err
	}
	if len(book.Pages) == 0 {
		return nil, ErrNoPages
	}

	sort.SliceStable(book.Pages, func(i, j int) bool {
		return book.Pages[i].PageName < book.Pages[j].PageName
	})
	book.CoverPosition = book.Pages[0].PagePosition
	if idx, ok := book.Info.CoverPage(); ok && idx >= 0 && idx < len(book.Pages) {
		book.CoverPosition = book.Pages[idx].PagePosition
	}
	return book, nil
}

// infer fails only when t or ctx is cancelled.
func (p *Pipeline) infer(ctx context.Context, t *task.Task, batch *ml.InterpreterInput, backend iface.Backend, dec *ml.Decoder) ([]ml.ComicPageObjects, error) {
	if err := t.Check(); err != nil {
		return nil, err
	}
	out, err := backend.Infer(ctx, batch)
	if err == nil {
		var pages []ml.ComicPageObjects
		pages, err = dec.Decode(out)
		if err == nil {
			p.batchDone(batch, nil)
			return pages, t.Check()
		}
	}
	if cerr := t.Check(); cerr != nil {
		return nil, cerr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	p.log.Warn("batch inference failed, pages kept without detections",
		zap.Ints("positions", batch.Positions), zap.Error(err))
	p.batchDone(batch, err)

	pages := make([]ml.ComicPageObjects, batch.BatchSize())
	for i := range pages {
		pages[i] = ml.ComicPageObjects{
			PagePosition: batch.Positions[i],
			PageName:     batch.Names[i],
			Objects:      ml.ObjectDetection{},
		}
	}
	return pages, nil
}

func (p *Pipeline) batchDone(batch *ml.InterpreterInput, err error) {
	if p.hooks.BatchInferred != nil {
		p.hooks.BatchInferred(batch.BatchSize(), err)
	}
}
