package ml

import (
	"errors"
	"fmt"
)

// ModelConfig describes the detection model the engine runs: input batch
// shape, class count and the anchor grid its box regression is relative to.
// It is supplied by configuration, never derived from the model file.
type ModelConfig struct {
	BatchSize int `yaml:"batchSize" json:"batchSize"`
	Width     int `yaml:"width" json:"width"`
	Height    int `yaml:"height" json:"height"`
	Channels  int `yaml:"channels" json:"channels"`

	// ClassCount excludes the background class.
	ClassCount     int          `yaml:"classCount" json:"classCount"`
	Names          []string     `yaml:"names" json:"names,omitempty"`
	GridW          int          `yaml:"gridW" json:"gridW"`
	GridH          int          `yaml:"gridH" json:"gridH"`
	AnchorsPerGrid int          `yaml:"anchorsPerGrid" json:"anchorsPerGrid"`
	AnchorShapes   [][2]float32 `yaml:"anchorShapes" json:"anchorShapes"`

	Threshold    float32 `yaml:"threshold" json:"threshold"`
	ExpThreshold float32 `yaml:"expThreshold" json:"expThreshold"`
	NMSThreshold float32 `yaml:"nmsThreshold" json:"nmsThreshold"`
	TopN         int     `yaml:"topN" json:"topN"`
}

const DefaultExpThreshold = 1.0

func (c ModelConfig) InputShape() InputShape {
	return InputShape{Batch: c.BatchSize, Height: c.Height, Width: c.Width, Channels: c.Channels}
}

func (c ModelConfig) AnchorCount() int {
	return c.GridW * c.GridH * c.AnchorsPerGrid
}

// ValuesPerAnchor is background + classes + 4 box deltas.
func (c ModelConfig) ValuesPerAnchor() int {
	return 1 + c.ClassCount + 4
}

func (c ModelConfig) expThreshold() float32 {
	if c.ExpThreshold <= 0 {
		return DefaultExpThreshold
	}
	return c.ExpThreshold
}

// ClassName falls back to the numeric id when no names are configured.
func (c ModelConfig) ClassName(id uint32) string {
	if int(id) < len(c.Names) {
		return c.Names[id]
	}
	return fmt.Sprint(id)
}

func (c ModelConfig) Validate() error {
	var errs []error
	if err := c.InputShape().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ClassCount <= 0 {
		errs = append(errs, fmt.Errorf("classCount must be positive, got %d", c.ClassCount))
	}
	if len(c.Names) > 0 && len(c.Names) != c.ClassCount {
		errs = append(errs, fmt.Errorf("names has %d entries for %d classes", len(c.Names), c.ClassCount))
	}
	if c.GridW <= 0 || c.GridH <= 0 || c.AnchorsPerGrid <= 0 {
		errs = append(errs, fmt.Errorf("anchor grid %dx%dx%d must be positive", c.GridW, c.GridH, c.AnchorsPerGrid))
	}
	if len(c.AnchorShapes) != c.AnchorsPerGrid {
		errs = append(errs, fmt.Errorf("anchorShapes has %d entries, anchorsPerGrid is %d", len(c.AnchorShapes), c.AnchorsPerGrid))
	}
	for i, s := range c.AnchorShapes {
		if s[0] <= 0 || s[1] <= 0 {
			errs = append(errs, fmt.Errorf("anchorShapes[%d] must be positive", i))
		}
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v outside (0,1]", c.Threshold))
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("nmsThreshold %v outside [0,1]", c.NMSThreshold))
	}
	if c.TopN < 0 {
		errs = append(errs, fmt.Errorf("topN must not be negative"))
	}
	return errors.Join(errs...)
}
