package engine

import (
	"os"
	"strings"

	"ComicDetServer/ml"
)

const UNREGISTERED = 0x0001
const IDLE = 0x0003
const BUSY = 0x0004
const ERROR = 0x0005

func StateName(state int) string {
	switch state {
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	case ERROR:
		return "error"
	default:
		return "unregistered"
	}
}

// ReadNames loads one class name per line, CRLF tolerated, blank lines dropped.
func ReadNames(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			names = append(names, l)
		}
	}
	return names, nil
}

// InferRequest is the body the remote engine receives.
type InferRequest struct {
	Shape     ml.InputShape `json:"shape"`
	Positions []int         `json:"positions"`
	Names     []string      `json:"names"`
	Content   []float32     `json:"content"`
}

type InferResponse struct {
	Anchors int       `json:"anchors"`
	Values  int       `json:"values"`
	Content []float32 `json:"content"`
	Error   string    `json:"error,omitempty"`
}
