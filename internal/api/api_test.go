package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	backend "tread-depth/internal/api"
	"tread-depth/internal/core"
	"tread-depth/internal/core/utils"
	"tread-depth/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type mockModel struct {
	outputs [][]float32
	err     error
	shapes  []tensor.Shape
}

func (m *mockModel) Predict(input *tensor.Dense) ([][]float32, error) {
	m.shapes = append(m.shapes, input.Shape().Clone())
	if m.err != nil {
		return nil, m.err
	}
	return m.outputs, nil
}

func (m *mockModel) Release() {}

func depthModel(depth float32) *mockModel {
	return &mockModel{outputs: [][]float32{{0.25}, {depth}}}
}

func gateModel(prob float32) *mockModel {
	return &mockModel{outputs: [][]float32{{prob}}}
}

func createRouter(t *testing.T, depth, gate core.Model, opts core.EstimatorOptions, maxUploadBytes int64) chi.Router {
	estimator, err := core.NewEstimator(depth, gate, opts)
	require.NoError(t, err)

	models := []api.ModelInfo{{Name: "depth", Container: "modelcv", Blob: "best_model.onnx", LocalPath: "./best_model.onnx"}}

	service := backend.NewTireService(estimator, models, maxUploadBytes)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func tireImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	return img
}

func jpegDataURI(t *testing.T, img image.Image) string {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func pngDataURI(t *testing.T, img image.Image) string {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func post(router http.Handler, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		payload, _ = json.Marshal(body)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCapture(t *testing.T) {
	depth := depthModel(4.567)
	gate := gateModel(0.9)
	router := createRouter(t, depth, gate, core.DefaultEstimatorOptions(), 1<<20)

	twoDecimals := regexp.MustCompile(`^-?\d+\.\d{2}$`)

	t.Run("Jpeg", func(t *testing.T) {
		uri := jpegDataURI(t, tireImage(320, 240))
		rec := post(router, "/capture", api.CaptureRequest{ImageData: uri})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res api.CaptureResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, uri, res.ImageData)
		assert.Equal(t, "4.57", res.PredictedDepth)
		assert.Regexp(t, twoDecimals, res.PredictedDepth)
	})

	t.Run("Png", func(t *testing.T) {
		uri := pngDataURI(t, tireImage(500, 375))
		rec := post(router, "/capture", api.CaptureRequest{ImageData: uri})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var res api.CaptureResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, uri, res.ImageData)
		assert.Equal(t, "4.57", res.PredictedDepth)
	})

	for _, shape := range append(depth.shapes, gate.shapes...) {
		assert.Equal(t, tensor.Shape{1, core.InputSize, core.InputSize, 3}, shape)
	}
}

func TestCaptureNoTire(t *testing.T) {
	depth := depthModel(4.567)
	router := createRouter(t, depth, gateModel(0.1), core.DefaultEstimatorOptions(), 1<<20)

	rec := post(router, "/capture", api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(64, 64))})
	require.Equal(t, http.StatusOK, rec.Code)

	var res api.CaptureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "No tire detected in the image", res.PredictedDepth)
	assert.Empty(t, depth.shapes)
}

func TestCaptureWithoutGate(t *testing.T) {
	router := createRouter(t, depthModel(2.1), nil, core.DefaultEstimatorOptions(), 1<<20)

	rec := post(router, "/capture", api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(64, 64))})
	require.Equal(t, http.StatusOK, rec.Code)

	var res api.CaptureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "2.10", res.PredictedDepth)
}

func TestCaptureIsIdempotent(t *testing.T) {
	router := createRouter(t, depthModel(3.14159), gateModel(0.8), core.DefaultEstimatorOptions(), 1<<20)

	payload := api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(100, 80))}

	first := post(router, "/capture", payload)
	second := post(router, "/capture", payload)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestCaptureMalformedInput(t *testing.T) {
	router := createRouter(t, depthModel(4.0), gateModel(0.9), core.DefaultEstimatorOptions(), 1<<20)

	var gray bytes.Buffer
	require.NoError(t, png.Encode(&gray, image.NewGray(image.Rect(0, 0, 32, 32))))

	notAnImage := base64.StdEncoding.EncodeToString([]byte("this is not an image"))

	cases := map[string]any{
		"InvalidJson":      `{"image_data": `,
		"MissingField":     map[string]string{"image": "data:image/jpeg;base64,abcd"},
		"MissingSeparator": api.CaptureRequest{ImageData: "data:image/jpeg;base64"},
		"InvalidBase64":    api.CaptureRequest{ImageData: "data:image/jpeg;base64,!!!not-base64!!!"},
		"Undecodable":      api.CaptureRequest{ImageData: "data:image/jpeg;base64," + notAnImage},
		"Grayscale":        api.CaptureRequest{ImageData: "data:image/png;base64," + base64.StdEncoding.EncodeToString(gray.Bytes())},
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := post(router, "/capture", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := post(router, "/capture", api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(64, 64))})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCaptureModelFailure(t *testing.T) {
	depth := &mockModel{err: errors.New("session run failed")}
	router := createRouter(t, depth, gateModel(0.9), core.DefaultEstimatorOptions(), 1<<20)

	rec := post(router, "/capture", api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(64, 64))})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "prediction failed")
}

func TestCaptureTooLarge(t *testing.T) {
	router := createRouter(t, depthModel(4.0), nil, core.DefaultEstimatorOptions(), 512)

	rec := post(router, "/capture", api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(200, 200))})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	opts := core.DefaultEstimatorOptions()
	opts.Decode.MaxPixels = 100
	router = createRouter(t, depthModel(4.0), nil, opts, 1<<20)

	rec = post(router, "/capture", api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(20, 20))})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCaptureBusy(t *testing.T) {
	limiter := utils.NewLimiter(1)
	require.NoError(t, limiter.Acquire(context.Background()))
	defer limiter.Release()

	opts := core.DefaultEstimatorOptions()
	opts.Limiter = limiter
	opts.QueueTimeout = 10 * time.Millisecond

	router := createRouter(t, depthModel(4.0), nil, opts, 1<<20)

	rec := post(router, "/capture", api.CaptureRequest{ImageData: jpegDataURI(t, tireImage(64, 64))})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpload(t *testing.T) {
	router := createRouter(t, depthModel(6.005), gateModel(0.7), core.DefaultEstimatorOptions(), 1<<20)

	t.Run("Prediction", func(t *testing.T) {
		rec := post(router, "/upload", api.UploadRequest{Contents: pngDataURI(t, tireImage(120, 90)), Filename: "tire.png"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

		body := rec.Body.String()
		assert.Contains(t, body, `src="data:image/png;base64,`)
		assert.Contains(t, body, "<hr>")
		assert.Regexp(t, `Predicted Depth: \d+\.\d{2} mm`, body)
	})

	t.Run("EmptyContents", func(t *testing.T) {
		rec := post(router, "/upload", api.UploadRequest{Filename: "tire.png"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no image content provided", strings.TrimSpace(rec.Body.String()))
	})

	t.Run("Malformed", func(t *testing.T) {
		rec := post(router, "/upload", api.UploadRequest{Contents: "no separator here"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadNoTire(t *testing.T) {
	router := createRouter(t, depthModel(6.0), gateModel(0.5), core.DefaultEstimatorOptions(), 1<<20)

	rec := post(router, "/upload", api.UploadRequest{Contents: jpegDataURI(t, tireImage(64, 64)), Filename: "road.jpg"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "No tire detected in the image")
	assert.NotContains(t, body, "Predicted Depth")
	assert.Contains(t, body, `src="data:image/jpeg;base64,`)
}

func TestIndex(t *testing.T) {
	router := createRouter(t, depthModel(4.0), gateModel(0.9), core.DefaultEstimatorOptions(), 1<<20)

	rec := get(router, "/")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "Tire Depth App")
	assert.Contains(t, body, "Open Camera")
	assert.Contains(t, body, `id="upload-image"`)
	assert.Contains(t, body, `id="output-image-upload"`)
	assert.Contains(t, body, "/assets/webcam_capture.js")
}

func TestAssets(t *testing.T) {
	router := createRouter(t, depthModel(4.0), nil, core.DefaultEstimatorOptions(), 1<<20)

	rec := get(router, "/assets/webcam_capture.js")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Capture Image")
	assert.Contains(t, body, "/capture")
	assert.Contains(t, body, "const NO_TIRE = '"+api.NoTireDetected+"'")
	assert.Contains(t, body, "predictedDepth === NO_TIRE ? NO_TIRE")

	assert.Equal(t, http.StatusOK, get(router, "/assets/upload.js").Code)
	assert.Equal(t, http.StatusOK, get(router, "/assets/style.css").Code)
	assert.Equal(t, http.StatusNotFound, get(router, "/assets/missing.js").Code)
}

func TestHealth(t *testing.T) {
	router := createRouter(t, depthModel(4.0), nil, core.DefaultEstimatorOptions(), 1<<20)

	rec := get(router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var res api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, api.HealthResponse{Status: "healthy"}, res)
}

func TestInfo(t *testing.T) {
	opts := core.DefaultEstimatorOptions()
	opts.Threshold = 0.7
	router := createRouter(t, depthModel(4.0), gateModel(0.9), opts, 1<<20)

	rec := get(router, "/info")
	require.Equal(t, http.StatusOK, rec.Code)

	var res api.InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.GatingEnabled)
	assert.InDelta(t, 0.7, res.GateThreshold, 1e-6)
	assert.Equal(t, core.InputSize, res.InputSize)
	require.Len(t, res.Models, 1)
	assert.Equal(t, "best_model.onnx", res.Models[0].Blob)
}
