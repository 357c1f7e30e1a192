package container

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"ComicDetServer/logger"
	"ComicDetServer/magic"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

func init() {
	api.DisableConfigDir()
}

// pdfContainer surfaces one entry per page. A page is a RegularFile only when
// it carries exactly one image XObject without an image mask; the entry then
// holds that image's encoded stream. Every other page is Other.
type pdfContainer struct {
	mu   sync.Mutex
	ctx  *model.Context
	enum enumeration
}

func openPdf(src io.ReadSeeker) (*pdfContainer, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(src, conf)
	if err != nil {
		return nil, wrap(magic.Pdf, "open", err)
	}
	return &pdfContainer{ctx: ctx}, nil
}

func (p *pdfContainer) Format() magic.Format {
	return magic.Pdf
}

func (p *pdfContainer) pageImage(pos int, stub bool) (model.Image, bool, error) {
	images, err := pdfcpu.ExtractPageImages(p.ctx, pos+1, stub)
	if err != nil {
		return model.Image{}, false, err
	}
	if len(images) != 1 {
		return model.Image{}, false, nil
	}
	for _, img := range images {
		if img.HasImgMask {
			return model.Image{}, false, nil
		}
		return img, true, nil
	}
	return model.Image{}, false, nil
}

var errNotRendered = errors.New("image stream cannot be rendered")

// fileType tells from a stub which file type rendering the image yields,
// without decoding its stream. Empty means it will not render.
func fileType(img model.Image) string {
	last := img.Filter
	if i := strings.LastIndexByte(last, ','); i >= 0 {
		last = last[i+1:]
	}
	switch last {
	case filter.DCT:
		if img.Comp == 4 {
			return "png"
		}
		return "jpg"
	case filter.JPX:
		return "jpx"
	case "", filter.Flate, filter.LZW, filter.CCITTFax, filter.RunLength:
		if img.Cs == model.DeviceCMYKCS {
			return "tif"
		}
		return "png"
	default:
		return ""
	}
}

func pageName(pos int, img model.Image, ext string) string {
	return fmt.Sprintf("%d_%s.%s", pos, img.Name, ext)
}

func (p *pdfContainer) Entries() iter.Seq2[Entry, error] {
	if !p.enum.begin() {
		return exhausted(magic.Pdf)
	}
	return func(yield func(Entry, error) bool) {
		p.mu.Lock()
		pages := p.ctx.PageCount
		p.mu.Unlock()

		for pos := 0; pos < pages; pos++ {
			p.mu.Lock()
			img, ok, err := p.pageImage(pos, true)
			p.mu.Unlock()

			e := Entry{Pos: pos, Name: fmt.Sprintf("page_%d", pos), Size: -1, Kind: Other}
			switch {
			case err != nil:
				logger.Log().Warn("pdf page not readable", zap.Int("pos", pos), zap.Error(err))
			case ok:
				if ext := fileType(img); ext != "" {
					e.Name = pageName(pos, img, ext)
					e.Kind = RegularFile
				}
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (p *pdfContainer) Read(e Entry) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Pos < 0 || e.Pos >= p.ctx.PageCount {
		return nil, noEntry(magic.Pdf, e)
	}
	img, ok, err := p.pageImage(e.Pos, false)
	if err != nil {
		return nil, wrap(magic.Pdf, "read", err)
	}
	// The rendered file type is only known after decoding, so the entry is
	// matched by page and resource name.
	if !ok || !strings.HasPrefix(e.Name, fmt.Sprintf("%d_%s.", e.Pos, img.Name)) {
		return nil, noEntry(magic.Pdf, e)
	}
	if img.Reader == nil {
		return nil, wrap(magic.Pdf, "read", errNotRendered)
	}
	b, err := io.ReadAll(img)
	if err != nil {
		return nil, wrap(magic.Pdf, "read", err)
	}
	return bufferedReader(b), nil
}

func (p *pdfContainer) Close() error {
	return nil
}
