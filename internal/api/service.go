package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"tread-depth/internal/core"
	"tread-depth/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type TireService struct {
	estimator      *core.Estimator
	models         []api.ModelInfo
	maxUploadBytes int64
}

func NewTireService(estimator *core.Estimator, models []api.ModelInfo, maxUploadBytes int64) *TireService {
	return &TireService{
		estimator:      estimator,
		models:         models,
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *TireService) AddRoutes(r chi.Router) {
	r.Get("/", s.Index)
	r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.FS(assets))))

	r.Get("/health", RestHandler(s.Health))
	r.Get("/info", RestHandler(s.Info))

	r.Group(func(r chi.Router) {
		if s.maxUploadBytes > 0 {
			r.Use(middleware.RequestSize(s.maxUploadBytes))
		}

		r.Post("/capture", RestHandler(s.Capture))
		r.Post("/upload", HtmlHandler(s.Upload))
	})
}

func (s *TireService) Index(w http.ResponseWriter, r *http.Request) {
	page := indexPage{
		Title:         "Tire Depth App",
		GatingEnabled: s.estimator.GatingEnabled(),
	}

	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, "index.html", page); err != nil {
		slog.Error("error rendering index page", "error", err)
		http.Error(w, "error rendering page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("error writing index page", "error", err)
	}
}

func (s *TireService) Health(r *http.Request) (any, error) {
	return api.HealthResponse{Status: "healthy"}, nil
}

func (s *TireService) Info(r *http.Request) (any, error) {
	return api.InfoResponse{
		Models:        s.models,
		GatingEnabled: s.estimator.GatingEnabled(),
		GateThreshold: s.estimator.Threshold(),
		InputSize:     core.InputSize,
	}, nil
}

func (s *TireService) Capture(r *http.Request) (any, error) {
	params, err := ParseRequest[api.CaptureRequest](r)
	if err != nil {
		return nil, err
	}

	if params.ImageData == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing required field: image_data")
	}

	pred, err := s.estimator.EstimateDataURI(r.Context(), params.ImageData)
	if err != nil {
		return nil, predictionError(err)
	}

	slog.Info("capture prediction", "predicted_depth", pred.Text(), "gated", pred.Gated, "gate_probability", pred.GateProbability)

	return api.CaptureResponse{
		ImageData:      params.ImageData,
		PredictedDepth: pred.Text(),
	}, nil
}

func (s *TireService) Upload(r *http.Request) ([]byte, error) {
	params, err := ParseRequest[api.UploadRequest](r)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(params.Contents) == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "no image content provided")
	}

	uri, err := core.ParseDataURI(params.Contents)
	if err != nil {
		return nil, predictionError(err)
	}
	data, err := uri.Bytes()
	if err != nil {
		return nil, predictionError(err)
	}

	pred, err := s.estimator.EstimateImageBytes(r.Context(), data)
	if err != nil {
		return nil, predictionError(err)
	}

	slog.Info("upload prediction", "filename", params.Filename, "predicted_depth", pred.Text(), "gated", pred.Gated, "gate_probability", pred.GateProbability)

	// The preview is re-encoded from the decoded bytes so that only a sniffed
	// image type ever reaches the page.
	preview := "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)

	var buf bytes.Buffer
	err = pages.ExecuteTemplate(&buf, "result.html", resultFragment{
		Preview:  template.URL(preview),
		Filename: params.Filename,
		Text:     pred.DisplayText(),
	})
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error rendering result: %w", err)
	}

	return buf.Bytes(), nil
}

func predictionError(err error) error {
	switch {
	case errors.Is(err, core.ErrMissingSeparator),
		errors.Is(err, core.ErrInvalidBase64),
		errors.Is(err, core.ErrUndecodableImage),
		errors.Is(err, core.ErrChannelMismatch):
		return CodedError(http.StatusBadRequest, err)
	case errors.Is(err, core.ErrImageTooLarge):
		return CodedError(http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, core.ErrBusy):
		return CodedError(http.StatusServiceUnavailable, err)
	default:
		return CodedError(http.StatusInternalServerError, fmt.Errorf("prediction failed: %w", err))
	}
}
