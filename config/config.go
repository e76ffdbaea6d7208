// Package config holds the settings shared by the CLI commands and the
// HTTP server.
package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Tutortoise/detection-pipeline/detections"
	"github.com/Tutortoise/detection-pipeline/engine"
	"github.com/Tutortoise/detection-pipeline/models"
)

const maxFileSize = 1 * 1024 * 1024

type Config struct {
	ModelPath   string `json:"model_path"`
	InputPath   string `json:"input_path"`
	OutputPath  string `json:"output_path"`
	LibraryPath string `json:"library_path"`
	LabelsPath  string `json:"labels_path,omitempty"`

	InputWidth  int     `json:"input_width"`
	InputHeight int     `json:"input_height"`
	Threshold   float64 `json:"threshold"`
	InputName   string  `json:"input_name,omitempty"`
	OutputName  string  `json:"output_name,omitempty"`

	RescaleBoxes bool    `json:"rescale_boxes"`
	Suppression  string  `json:"suppression"`
	IouThreshold float64 `json:"iou_threshold"`

	IntraOpThreads int  `json:"intra_op_threads"`
	InterOpThreads int  `json:"inter_op_threads"`
	CPUMemArena    bool `json:"cpu_mem_arena"`
	MemPattern     bool `json:"mem_pattern"`

	Server ServerConfig `json:"server"`
}

type ServerConfig struct {
	Addr           string `json:"addr"`
	PoolSize       int    `json:"pool_size"`
	AcquireTimeout string `json:"acquire_timeout"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
}

func Default() *Config {
	return &Config{
		ModelPath:      filepath.Join("models", "yolov10n.onnx"),
		InputPath:      filepath.Join("images", "car.png"),
		OutputPath:     filepath.Join("output", "yolov10_car_output.jpg"),
		LibraryPath:    engine.DefaultLibraryPath(),
		InputWidth:     detections.InputWidth,
		InputHeight:    detections.InputHeight,
		Threshold:      detections.ConfThreshold,
		RescaleBoxes:   true,
		Suppression:    string(detections.SuppressNone),
		IouThreshold:   detections.IouThreshold,
		IntraOpThreads: runtime.NumCPU(),
		InterOpThreads: runtime.NumCPU(),
		CPUMemArena:    true,
		MemPattern:     true,
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			PoolSize:       4,
			AcquireTimeout: "5s",
			MaxUploadBytes: 10 << 20,
		},
	}
}

// Load overlays the JSON file at path onto the defaults. Fields missing from
// the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, models.Errorf(models.ErrInvalidConfig, "config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "failed to stat config file", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, models.Errorf(models.ErrInvalidConfig, "config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "failed to read config file", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, fmt.Sprintf("failed to parse %s", cleanPath), err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return models.Errorf(models.ErrInvalidConfig, "model path is required")
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return models.Errorf(models.ErrInvalidConfig, "input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		return models.Errorf(models.ErrInvalidConfig, "threshold must be in [0, 1), got %v", c.Threshold)
	}
	if _, err := detections.ParseSuppression(c.Suppression); err != nil {
		return models.NewError(models.ErrInvalidConfig, "suppression", err)
	}
	if c.IouThreshold <= 0 || c.IouThreshold > 1 {
		return models.Errorf(models.ErrInvalidConfig, "iou threshold must be in (0, 1], got %v", c.IouThreshold)
	}
	if c.Server.PoolSize <= 0 {
		return models.Errorf(models.ErrInvalidConfig, "pool size must be positive, got %d", c.Server.PoolSize)
	}
	if _, err := c.Server.Timeout(); err != nil {
		return err
	}
	return nil
}

// Timeout parses AcquireTimeout.
func (s ServerConfig) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(s.AcquireTimeout)
	if err != nil {
		return 0, models.NewError(models.ErrInvalidConfig, "acquire timeout", err)
	}
	if d <= 0 {
		return 0, models.Errorf(models.ErrInvalidConfig, "acquire timeout must be positive, got %s", d)
	}
	return d, nil
}

func (c *Config) SessionConfig() engine.SessionConfig {
	return engine.SessionConfig{
		IntraOpThreads: c.IntraOpThreads,
		InterOpThreads: c.InterOpThreads,
		CPUMemArena:    c.CPUMemArena,
		MemPattern:     c.MemPattern,
	}
}

// PipelineOptions converts the config into detections.Options, reading the
// labels file if one is set.
func (c *Config) PipelineOptions() (detections.Options, error) {
	suppression, err := detections.ParseSuppression(c.Suppression)
	if err != nil {
		return detections.Options{}, models.NewError(models.ErrInvalidConfig, "suppression", err)
	}
	opts := detections.DefaultOptions()
	opts.Width = c.InputWidth
	opts.Height = c.InputHeight
	opts.Threshold = float32(c.Threshold)
	opts.InputName = c.InputName
	opts.OutputName = c.OutputName
	opts.RescaleBoxes = c.RescaleBoxes
	opts.Suppression = suppression
	opts.IouThreshold = c.IouThreshold

	if c.LabelsPath != "" {
		opts.Labels, err = LoadLabels(c.LabelsPath)
		if err != nil {
			return detections.Options{}, err
		}
	}
	return opts, nil
}

// LoadLabels reads one class name per line. Line n names class n.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "open labels file", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, models.NewError(models.ErrInvalidConfig, "read labels file", err)
	}
	return labels, nil
}
