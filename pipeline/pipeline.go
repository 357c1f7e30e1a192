package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"ComicDetServer/comicinfo"
	"ComicDetServer/container"
	"ComicDetServer/imagecodec"
	"ComicDetServer/logger"
	"ComicDetServer/magic"
	"ComicDetServer/task"

	"go.uber.org/zap"
)

// Size bounds a thumbnail. A zero side leaves that axis free.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Page struct {
	Pos   int
	Name  string
	Image imagecodec.OpenedImage
}

// Hooks observe pipeline progress; monitor wires its counters through them.
type Hooks struct {
	PageExtracted func()
	EntryFailed   func()
	BatchInferred func(pages int, err error)
}

type Pipeline struct {
	codec imagecodec.Codec
	log   *zap.Logger
	hooks Hooks
}

type Option func(*Pipeline)

func WithHooks(h Hooks) Option {
	return func(p *Pipeline) {
		p.hooks = h
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

func New(codec imagecodec.Codec, opts ...Option) *Pipeline {
	p := &Pipeline{codec: codec}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Named("pipeline")
	}
	return p
}

func (p *Pipeline) Codec() imagecodec.Codec {
	return p.codec
}

func readEntry(c container.Container, e container.Entry) ([]byte, error) {
	rc, err := c.Read(e)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type resizeFunc func(imagecodec.OpenedImage) (imagecodec.OpenedImage, error)

func (p *Pipeline) thumbnail(size *Size) resizeFunc {
	if size == nil {
		return nil
	}
	return func(img imagecodec.OpenedImage) (imagecodec.OpenedImage, error) {
		return imagecodec.Thumbnail(p.codec, img, size.Width, size.Height)
	}
}

func (p *Pipeline) decode(t *task.Task, data []byte, resize resizeFunc) (imagecodec.OpenedImage, error) {
	img, err := p.codec.Decode(data)
	if err != nil {
		return img, checked(t, fmt.Errorf("%w: %v", ErrImage, err))
	}
	if err := t.Check(); err != nil {
		return img, err
	}
	if resize == nil {
		return img, nil
	}
	img, err = resize(img)
	if err != nil {
		return img, checked(t, fmt.Errorf("%w: resize: %v", ErrImage, err))
	}
	return img, t.Check()
}

// PageImage opens the image stored at entry position pos. Unlike the
// streaming calls it fails on the first problem.
func (p *Pipeline) PageImage(t *task.Task, c container.Container, pos int, size *Size) (imagecodec.OpenedImage, error) {
	var (
		found container.Entry
		ok    bool
	)
	for e, err := range c.Entries() {
		if err != nil {
			return imagecodec.OpenedImage{}, checked(t, err)
		}
		if e.Pos == pos {
			found, ok = e, true
			break
		}
		if err := t.Check(); err != nil {
			return imagecodec.OpenedImage{}, err
		}
	}
	if !ok || !found.IsFile() {
		return imagecodec.OpenedImage{}, checked(t, fmt.Errorf("%w: %d", ErrCantFind, pos))
	}

	page, isImage, err := p.load(t, c, found, p.thumbnail(size))
	if err != nil {
		return imagecodec.OpenedImage{}, err
	}
	if !isImage {
		return imagecodec.OpenedImage{}, fmt.Errorf("%w: %d is not an image", ErrCantFind, pos)
	}
	return page.Image, nil
}

// Pages decodes every image entry in native order. A failing entry is
// yielded as *PageError and the stream goes on; cancellation is yielded once
// as task.ErrCancelled and ends the stream.
func (p *Pipeline) Pages(t *task.Task, c container.Container, size *Size) iter.Seq2[Page, error] {
	return p.images(t, c, p.thumbnail(size), nil)
}

// images drives the per-entry state machine. Entries named like a comic info
// sidecar go to meta when it is set and are never treated as pages.
func (p *Pipeline) images(t *task.Task, c container.Container, resize resizeFunc, meta func([]byte)) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if err := t.Check(); err != nil {
			yield(Page{}, err)
			return
		}
		for e, err := range c.Entries() {
			if err == nil {
				err = t.Check()
			}
			if err != nil {
				yield(Page{}, checked(t, err))
				return
			}
			if !e.IsFile() {
				continue
			}
			if comicinfo.IsFileName(e.Name) {
				if meta != nil {
					if data, err := readEntry(c, e); err == nil {
						meta(data)
					} else {
						p.log.Warn("comic info unreadable", zap.String("entry", e.Name), zap.Error(err))
					}
				}
				continue
			}

			page, isImage, err := p.load(t, c, e, resize)
			if errors.Is(err, task.ErrCancelled) {
				p.log.Info("extraction cancelled", zap.String("task", t.ID()), zap.Int("pos", e.Pos))
				yield(Page{}, err)
				return
			}
			if err != nil {
				p.entryFailed(e, err)
				if !yield(Page{}, &PageError{Entry: e, Err: err}) {
					return
				}
				continue
			}
			if !isImage {
				continue
			}
			if p.hooks.PageExtracted != nil {
				p.hooks.PageExtracted()
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// load reads one entry and decodes it when it holds an image. Entries that
// are neither named nor sniffed as images report isImage false.
func (p *Pipeline) load(t *task.Task, c container.Container, e container.Entry, resize resizeFunc) (Page, bool, error) {
	named := imagecodec.HasImageExt(e.Name)
	data, err := readEntry(c, e)
	if err != nil {
		return Page{}, named, checked(t, err)
	}
	if err := t.Check(); err != nil {
		return Page{}, named, err
	}
	if len(data) == 0 {
		if named {
			return Page{}, true, ErrEmptyEntry
		}
		return Page{}, false, nil
	}
	if !named && !p.codec.Sniff(data) {
		return Page{}, false, nil
	}
	img, err := p.decode(t, data, resize)
	if err != nil {
		return Page{}, true, err
	}
	return Page{Pos: e.Pos, Name: e.Name, Image: img}, true, nil
}

func (p *Pipeline) entryFailed(e container.Entry, err error) {
	p.log.Warn("entry skipped", zap.Int("pos", e.Pos), zap.String("entry", e.Name), zap.Error(err))
	if p.hooks.EntryFailed != nil {
		p.hooks.EntryFailed()
	}
}

// Metadata parses the first comic info sidecar of the container.
func (p *Pipeline) Metadata(t *task.Task, c container.Container) (*comicinfo.ComicInfo, error) {
	for e, err := range c.Entries() {
		if err != nil {
			return nil, checked(t, err)
		}
		if err := t.Check(); err != nil {
			return nil, err
		}
		if !e.IsFile() || !comicinfo.IsFileName(e.Name) {
			continue
		}
		data, err := readEntry(c, e)
		if err != nil {
			return nil, checked(t, err)
		}
		info, err := parseMetadata(data)
		if err != nil {
			p.log.Warn("comic info rejected", zap.String("entry", e.Name), zap.Error(err))
			continue
		}
		return info, t.Check()
	}
	return nil, checked(t, ErrNoMetadata)
}

var bom = []byte("\xef\xbb\xbf")

func parseMetadata(data []byte) (*comicinfo.ComicInfo, error) {
	head := bytes.TrimLeft(bytes.TrimPrefix(data, bom), " \t\r\n")
	if !magic.Is(head, magic.Xml) {
		return nil, errors.New("content is not xml")
	}
	return comicinfo.Parse(bytes.NewReader(head))
}
