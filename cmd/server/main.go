package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tread-depth/cmd"
	"tread-depth/internal/api"
	"tread-depth/internal/config"
	"tread-depth/internal/core"
	"tread-depth/internal/core/utils"
	"tread-depth/internal/storage"
	pkgapi "tread-depth/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func loadModels(cfg config.ServerConfig) (depth core.Model, gate core.Model, err error) {
	depthModel, err := core.LoadOnnxModel(cfg.DepthModelPath, core.DepthSignature)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load depth model: %w", err)
	}
	slog.Info("loaded depth model", "path", cfg.DepthModelPath, "outputs", depthModel.OutputNames())

	if !cfg.EnableTireGate {
		slog.Warn("tire gate disabled, every image will be measured")
		return depthModel, nil, nil
	}

	gateModel, err := core.LoadOnnxModel(cfg.GateModelPath, core.GateSignature)
	if err != nil {
		depthModel.Release()
		return nil, nil, fmt.Errorf("could not load tire gate model: %w", err)
	}
	slog.Info("loaded tire gate model", "path", cfg.GateModelPath, "outputs", gateModel.OutputNames(), "threshold", cfg.GateThreshold)

	return depthModel, gateModel, nil
}

func createServer(cfg config.ServerConfig, estimator *core.Estimator, models []pkgapi.ModelInfo) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	service := api.NewTireService(estimator, models, cfg.MaxUploadBytes)
	service.AddRoutes(r)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// run returns instead of exiting so that deferred runtime and model cleanup
// happens on every startup failure.
func run(cfg config.ServerConfig) error {
	if err := core.InitializeRuntime(cfg.OnnxRuntimeDylib); err != nil {
		return err
	}
	defer func() {
		if err := core.DestroyRuntime(); err != nil {
			slog.Error("error destroying onnx env", "error", err)
		}
	}()

	store, err := storage.NewBlobStore(cfg.StorageProvider, cfg.StorageConnectionString)
	if err != nil {
		return fmt.Errorf("could not create blob store: %w", err)
	}

	artifacts := []core.Artifact{{Name: "depth", Blob: cfg.DepthModelBlob, LocalPath: cfg.DepthModelPath}}
	if cfg.EnableTireGate {
		artifacts = append(artifacts, core.Artifact{Name: "gate", Blob: cfg.GateModelBlob, LocalPath: cfg.GateModelPath})
	}

	fetchCtx, cancelFetch := context.WithTimeout(context.Background(), 10*time.Minute)
	err = core.FetchArtifacts(fetchCtx, store, cfg.ModelContainer, core.FetchOptions{SkipExisting: cfg.ModelCache}, artifacts...)
	cancelFetch()
	if err != nil {
		return fmt.Errorf("could not fetch model artifacts: %w", err)
	}

	depth, gate, err := loadModels(cfg)
	if err != nil {
		return err
	}
	defer depth.Release()
	if gate != nil {
		defer gate.Release()
	}

	estimator, err := core.NewEstimator(depth, gate, core.EstimatorOptions{
		Threshold:    cfg.GateThreshold,
		Limiter:      utils.NewLimiter(cfg.MaxConcurrentInferences),
		QueueTimeout: cfg.InferenceQueueTimeout,
		Decode: core.DecodeOptions{
			MaxPixels:  cfg.MaxImagePixels,
			AutoOrient: cfg.AutoOrient,
		},
	})
	if err != nil {
		return fmt.Errorf("could not create estimator: %w", err)
	}

	models := make([]pkgapi.ModelInfo, 0, len(artifacts))
	for _, artifact := range artifacts {
		models = append(models, pkgapi.ModelInfo{
			Name:      artifact.Name,
			Container: cfg.ModelContainer,
			Blob:      artifact.Blob,
			LocalPath: artifact.LocalPath,
		})
	}

	server := createServer(cfg, estimator, models)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("tire depth server listening", "port", cfg.Port, "gating", cfg.EnableTireGate, "max_concurrent_inferences", cfg.MaxConcurrentInferences)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %d: %w", cfg.Port, err)
	}

	return nil
}

func main() {
	log.Println("Starting tire depth server...")

	cmd.LoadEnvFile()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	slog.SetLogLoggerLevel(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatalf("%v", err)
	}

	log.Println("Server stopped.")
}
