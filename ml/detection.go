package ml

type Prediction struct {
	Probability float32   `json:"probability"`
	Box         ObjectBox `json:"box"`
}

// ObjectDetection groups the accepted predictions of one page by class id.
type ObjectDetection map[uint32][]Prediction

func (d ObjectDetection) Count() int {
	n := 0
	for _, p := range d {
		n += len(p)
	}
	return n
}

type ComicPageObjects struct {
	PagePosition int             `json:"pagePosition"`
	PageName     string          `json:"pageName"`
	Objects      ObjectDetection `json:"objects"`
}
