package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"ComicDetServer/engine"
	"ComicDetServer/logger"
	"ComicDetServer/ml"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type EngineConfig struct {
	// Endpoint of the inference server; empty runs the blank engine.
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

func (e EngineConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type Thumbnail struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Config struct {
	HTTPPort    int    `yaml:"HTTPPort"`
	RPCPort     int    `yaml:"RPCPort"`
	MetricsPort int    `yaml:"MetricsPort"`
	WorkersNum  int    `yaml:"workersNum"`
	LogLevel    string `yaml:"logLevel"`
	Development bool   `yaml:"development"`

	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerHost string `yaml:"RegServerHost"`
	RegServerPort int    `yaml:"RegServerPort"`

	Engine EngineConfig `yaml:"engine"`
	// Model may be given inline or through ModelFile; the file wins.
	Model     ml.ModelConfig `yaml:"model"`
	ModelFile string         `yaml:"modelFile"`
	NamesFile string         `yaml:"namesFile"`
	Thumbnail Thumbnail      `yaml:"thumbnail"`
}

func DefaultModel() ml.ModelConfig {
	return ml.ModelConfig{
		BatchSize:      4,
		Width:          448,
		Height:         448,
		Channels:       3,
		ClassCount:     2,
		Names:          []string{"speech_balloon", "panel"},
		GridW:          14,
		GridH:          14,
		AnchorsPerGrid: 3,
		AnchorShapes:   [][2]float32{{0.1, 0.08}, {0.25, 0.2}, {0.5, 0.6}},
		Threshold:      0.6,
		ExpThreshold:   ml.DefaultExpThreshold,
		NMSThreshold:   0.4,
		TopN:           64,
	}
}

func Default() Config {
	return Config{
		HTTPPort:    8080,
		RPCPort:     50051,
		MetricsPort: 9090,
		WorkersNum:  runtime.NumCPU(),
		LogLevel:    "info",
		Engine:      EngineConfig{TimeoutSeconds: engine.TimeOutSeconds},
		Model:       DefaultModel(),
		Thumbnail:   Thumbnail{Width: 1024, Height: 1024},
	}
}

// Load reads a yaml file. Relative ModelFile and NamesFile paths are
// resolved against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(data, filepath.Dir(path))
}

func Parse(data []byte) (*Config, error) {
	return parse(data, ".")
}

func parse(data []byte, dir string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ModelFile != "" {
		b, err := os.ReadFile(resolve(dir, cfg.ModelFile))
		if err != nil {
			return nil, fmt.Errorf("read model file: %w", err)
		}
		var m ml.ModelConfig
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("parse model file: %w", err)
		}
		cfg.Model = m
	}
	if cfg.NamesFile != "" {
		names, err := engine.ReadNames(resolve(dir, cfg.NamesFile))
		if err != nil {
			return nil, fmt.Errorf("read names file: %w", err)
		}
		cfg.Model.Names = names
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func (c *Config) normalize() {
	cpus := runtime.NumCPU()
	if c.WorkersNum <= 0 {
		logger.Log().Warn("invalid workersNum, defaulting to 1", zap.Int("workersNum", c.WorkersNum))
		c.WorkersNum = 1
	} else if c.WorkersNum > cpus {
		logger.Log().Warn("workersNum exceeds CPU cores, which may degrade performance",
			zap.Int("workersNum", c.WorkersNum), zap.Int("cpus", cpus))
	}
	if c.Model.ExpThreshold == 0 {
		c.Model.ExpThreshold = ml.DefaultExpThreshold
	}
}

func (c *Config) Validate() error {
	var errs []error
	for name, port := range map[string]int{"HTTPPort": c.HTTPPort, "RPCPort": c.RPCPort, "MetricsPort": c.MetricsPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	if c.UseRegServer && (c.RegServerHost == "" || c.RegServerPort <= 0) {
		errs = append(errs, errors.New("UseRegServer needs RegServerHost and RegServerPort"))
	}
	if c.Engine.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("engine.timeoutSeconds must not be negative"))
	}
	if c.Thumbnail.Width < 0 || c.Thumbnail.Height < 0 {
		errs = append(errs, errors.New("thumbnail size must not be negative"))
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	return errors.Join(errs...)
}
