package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type ServerConfig struct {
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING,notEmpty,required"`
	StorageProvider         string `env:"STORAGE_PROVIDER" envDefault:"azure"`
	ModelContainer          string `env:"MODEL_CONTAINER" envDefault:"modelcv"`
	ModelCache              bool   `env:"MODEL_CACHE" envDefault:"false"`

	DepthModelBlob string `env:"DEPTH_MODEL_BLOB" envDefault:"best_model.onnx"`
	DepthModelPath string `env:"DEPTH_MODEL_PATH" envDefault:"./best_model.onnx"`
	GateModelBlob  string `env:"GATE_MODEL_BLOB" envDefault:"tire_or_not_best_model2.onnx"`
	GateModelPath  string `env:"GATE_MODEL_PATH" envDefault:"./tire_or_not_best_model2.onnx"`

	EnableTireGate bool    `env:"ENABLE_TIRE_GATE" envDefault:"true"`
	GateThreshold  float32 `env:"GATE_THRESHOLD" envDefault:"0.5"`

	OnnxRuntimeDylib string `env:"ONNX_RUNTIME_DYLIB,notEmpty,required"`

	Port                    int           `env:"PORT" envDefault:"2113"`
	MaxConcurrentInferences int           `env:"MAX_CONCURRENT_INFERENCES" envDefault:"4"`
	InferenceQueueTimeout   time.Duration `env:"INFERENCE_QUEUE_TIMEOUT" envDefault:"10s"`
	RequestTimeout          time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
	MaxUploadBytes          int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	MaxImagePixels          int           `env:"MAX_IMAGE_PIXELS" envDefault:"40000000"`
	AutoOrient              bool          `env:"AUTO_ORIENT" envDefault:"false"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadServerConfig() (ServerConfig, error) {
	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.GateThreshold < 0 || cfg.GateThreshold > 1 {
		return cfg, fmt.Errorf("GATE_THRESHOLD must be in [0, 1], got %v", cfg.GateThreshold)
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}

	return cfg, nil
}
