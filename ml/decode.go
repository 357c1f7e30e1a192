package ml

import (
	"fmt"
	"math"
	"sort"
)

// Decoder turns raw model output into per-page detections. It is immutable
// after NewDecoder and safe for concurrent use.
type Decoder struct {
	cfg     ModelConfig
	anchors []ObjectBox
}

func NewDecoder(cfg ModelConfig) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}
	return &Decoder{cfg: cfg, anchors: Anchors(cfg)}, nil
}

func (d *Decoder) Config() ModelConfig {
	return d.cfg
}

// Anchors lays the configured shapes over the grid. Anchor
// (y*GridW+x)*AnchorsPerGrid+k is shape k centered in cell (x, y).
func Anchors(cfg ModelConfig) []ObjectBox {
	out := make([]ObjectBox, 0, cfg.AnchorCount())
	for y := 0; y < cfg.GridH; y++ {
		for x := 0; x < cfg.GridW; x++ {
			cx := (float32(x) + 0.5) / float32(cfg.GridW)
			cy := (float32(y) + 0.5) / float32(cfg.GridH)
			for _, s := range cfg.AnchorShapes {
				out = append(out, ObjectBox{CX: cx, CY: cy, W: s[0], H: s[1]})
			}
		}
	}
	return out
}

type candidate struct {
	class uint32
	pred  Prediction
}

// Decode reads only the first len(out.Positions) rows of out.Content and
// returns the pages in the same order.
func (d *Decoder) Decode(out *InterpreterOutput) ([]ComicPageObjects, error) {
	if out == nil {
		return nil, nil
	}
	if out.Anchors != len(d.anchors) || out.Values != d.cfg.ValuesPerAnchor() {
		return nil, fmt.Errorf("output shape (%d, %d) does not match model (%d, %d)",
			out.Anchors, out.Values, len(d.anchors), d.cfg.ValuesPerAnchor())
	}
	if len(out.Names) != len(out.Positions) {
		return nil, fmt.Errorf("%d positions but %d names", len(out.Positions), len(out.Names))
	}
	if need := len(out.Positions) * out.Anchors * out.Values; len(out.Content) < need {
		return nil, fmt.Errorf("output has %d values, %d pages need %d", len(out.Content), len(out.Positions), need)
	}

	pages := make([]ComicPageObjects, len(out.Positions))
	for i := range out.Positions {
		pages[i] = ComicPageObjects{
			PagePosition: out.Positions[i],
			PageName:     out.Names[i],
			Objects:      d.decodeRow(out.row(i)),
		}
	}
	return pages, nil
}

func (d *Decoder) decodeRow(row []float32) ObjectDetection {
	values := d.cfg.ValuesPerAnchor()
	var cands []candidate
	for a, anchor := range d.anchors {
		v := row[a*values : (a+1)*values]
		best, score := 0, v[1]
		for c := 1; c < d.cfg.ClassCount; c++ {
			if v[1+c] > score {
				best, score = c, v[1+c]
			}
		}
		if score < d.cfg.Threshold || v[0] > score || isNaN(score) {
			continue
		}
		deltas := v[1+d.cfg.ClassCount:]
		box := d.decodeBox(anchor, deltas[0], deltas[1], deltas[2], deltas[3])
		if box.Area() == 0 {
			continue
		}
		cands = append(cands, candidate{class: uint32(best), pred: Prediction{Probability: score, Box: box}})
	}

	if d.cfg.TopN > 0 && len(cands) > d.cfg.TopN {
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].pred.Probability > cands[j].pred.Probability
		})
		cands = cands[:d.cfg.TopN]
	}

	objects := make(ObjectDetection)
	for _, c := range cands {
		objects[c.class] = append(objects[c.class], c.pred)
	}
	if d.cfg.NMSThreshold > 0 {
		for class, preds := range objects {
			objects[class] = NMS(preds, d.cfg.NMSThreshold)
		}
	}
	return objects
}

func (d *Decoder) decodeBox(anchor ObjectBox, dx, dy, dw, dh float32) ObjectBox {
	t := d.cfg.expThreshold()
	return ObjectBox{
		CX: anchor.CX + dx*anchor.W,
		CY: anchor.CY + dy*anchor.H,
		W:  anchor.W * safeExp(dw, t),
		H:  anchor.H * safeExp(dh, t),
	}.Clip()
}

// safeExp is exp(x) up to the threshold t and its tangent line above it,
// so large regression values cannot overflow.
func safeExp(x, t float32) float32 {
	if x > t {
		return (x - t + 1) * float32(math.Exp(float64(t)))
	}
	return float32(math.Exp(float64(x)))
}

// NMS keeps the highest scoring boxes and drops every box that overlaps a
// kept one by more than threshold. The result is sorted by probability.
func NMS(preds []Prediction, threshold float32) []Prediction {
	sorted := make([]Prediction, len(preds))
	copy(sorted, preds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Probability > sorted[j].Probability
	})
	kept := sorted[:0]
	for _, p := range sorted {
		keep := true
		for _, k := range kept {
			if k.Box.IoU(p.Box) > threshold {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, p)
		}
	}
	return kept
}

func isNaN(f float32) bool {
	return f != f
}
