package ml

// ObjectBox is a detection in normalized image coordinates, center form.
type ObjectBox struct {
	CX float32 `json:"cx"`
	CY float32 `json:"cy"`
	W  float32 `json:"w"`
	H  float32 `json:"h"`
}

// Corners converts to (yMin, xMin, yMax, xMax).
func (b ObjectBox) Corners() (yMin, xMin, yMax, xMax float32) {
	return b.CY - b.H/2, b.CX - b.W/2, b.CY + b.H/2, b.CX + b.W/2
}

func FromCorners(yMin, xMin, yMax, xMax float32) ObjectBox {
	return ObjectBox{
		CX: (xMin + xMax) / 2,
		CY: (yMin + yMax) / 2,
		W:  xMax - xMin,
		H:  yMax - yMin,
	}
}

// Clip limits the box to the unit square.
func (b ObjectBox) Clip() ObjectBox {
	yMin, xMin, yMax, xMax := b.Corners()
	return FromCorners(clamp01(yMin), clamp01(xMin), clamp01(yMax), clamp01(xMax))
}

func (b ObjectBox) Area() float32 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

func (b ObjectBox) IoU(o ObjectBox) float32 {
	ay0, ax0, ay1, ax1 := b.Corners()
	by0, bx0, by1, bx1 := o.Corners()
	iw := min(ax1, bx1) - max(ax0, bx0)
	ih := min(ay1, by1) - max(ay0, by0)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
