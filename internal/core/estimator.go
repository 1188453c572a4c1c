package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"tread-depth/internal/core/utils"
	"tread-depth/pkg/api"
)

const (
	NoTireDetected = api.NoTireDetected

	DefaultGateThreshold float32 = 0.5
)

var ErrBusy = errors.New("inference capacity exhausted, try again later")

type Prediction struct {
	TireDetected bool
	DepthMM      float32

	// Gated is set when the gate network ran; GateProbability is its output.
	Gated           bool
	GateProbability float32
}

// Text is the depth with two decimals, or the no-tire sentence.
func (p Prediction) Text() string {
	if !p.TireDetected {
		return NoTireDetected
	}
	return fmt.Sprintf("%.2f", float64(p.DepthMM))
}

func (p Prediction) DisplayText() string {
	if !p.TireDetected {
		return NoTireDetected
	}
	return fmt.Sprintf("Predicted Depth: %s mm", p.Text())
}

type EstimatorOptions struct {
	// Threshold is the gate probability a tire must exceed.
	Threshold float32

	// Limiter bounds concurrent forward passes. Nil means unbounded.
	Limiter *utils.Limiter

	// QueueTimeout bounds the wait for a Limiter slot. Zero waits as long as
	// the request context allows.
	QueueTimeout time.Duration

	Decode DecodeOptions
}

func DefaultEstimatorOptions() EstimatorOptions {
	return EstimatorOptions{Threshold: DefaultGateThreshold}
}

// Estimator is the gate-then-depth pipeline. It is immutable after
// construction and shared by all requests.
type Estimator struct {
	depth Model
	gate  Model
	opts  EstimatorOptions
}

// NewEstimator builds the pipeline. A nil gate disables the tire check and
// every image goes straight to the depth network.
func NewEstimator(depth Model, gate Model, opts EstimatorOptions) (*Estimator, error) {
	if depth == nil {
		return nil, fmt.Errorf("depth model is required")
	}
	if opts.Threshold < 0 || opts.Threshold > 1 || math.IsNaN(float64(opts.Threshold)) {
		return nil, fmt.Errorf("gate threshold must be in [0, 1], got %v", opts.Threshold)
	}

	return &Estimator{depth: depth, gate: gate, opts: opts}, nil
}

func (e *Estimator) GatingEnabled() bool {
	return e.gate != nil
}

func (e *Estimator) Threshold() float32 {
	return e.opts.Threshold
}

func (e *Estimator) acquire(ctx context.Context) error {
	if e.opts.QueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.QueueTimeout)
		defer cancel()
	}

	if err := e.opts.Limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return nil
}

func (e *Estimator) Estimate(ctx context.Context, img image.Image) (Prediction, error) {
	if err := e.acquire(ctx); err != nil {
		return Prediction{}, err
	}
	defer e.opts.Limiter.Release()

	resized := Resize(img, InputSize)

	var pred Prediction

	if e.gate != nil {
		outputs, err := e.gate.Predict(Normalize(resized, NormalizeRescale))
		if err != nil {
			return Prediction{}, fmt.Errorf("gate model inference failed: %w", err)
		}
		prob, err := scalarOutput(outputs, 0)
		if err != nil {
			return Prediction{}, fmt.Errorf("gate model: %w", err)
		}

		pred.Gated = true
		pred.GateProbability = prob

		if prob <= e.opts.Threshold {
			slog.Debug("no tire detected", "probability", prob, "threshold", e.opts.Threshold)
			return pred, nil
		}
	}

	outputs, err := e.depth.Predict(Normalize(resized, NormalizeCaffe))
	if err != nil {
		return Prediction{}, fmt.Errorf("depth model inference failed: %w", err)
	}
	depth, err := scalarOutput(outputs, DepthOutputIndex)
	if err != nil {
		return Prediction{}, fmt.Errorf("depth model: %w", err)
	}

	pred.TireDetected = true
	pred.DepthMM = depth

	slog.Debug("estimated tread depth", "depth_mm", depth, "gated", pred.Gated, "probability", pred.GateProbability)
	return pred, nil
}

// EstimateDataURI decodes a data-URI image submission and runs Estimate on it.
func (e *Estimator) EstimateDataURI(ctx context.Context, s string) (Prediction, error) {
	uri, err := ParseDataURI(s)
	if err != nil {
		return Prediction{}, err
	}

	data, err := uri.Bytes()
	if err != nil {
		return Prediction{}, err
	}

	slog.Debug("decoded data uri", "media_type", uri.MediaType, "bytes", len(data))

	return e.EstimateImageBytes(ctx, data)
}

// EstimateImageBytes decodes an encoded JPEG or PNG image and runs
// Estimate on it.
func (e *Estimator) EstimateImageBytes(ctx context.Context, data []byte) (Prediction, error) {
	img, err := DecodeImage(data, e.opts.Decode)
	if err != nil {
		return Prediction{}, err
	}

	slog.Debug("decoded image submission", "bytes", len(data), "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	return e.Estimate(ctx, img)
}

func scalarOutput(outputs [][]float32, index int) (float32, error) {
	if index >= len(outputs) || len(outputs[index]) == 0 {
		return 0, fmt.Errorf("missing output %d", index)
	}
	value := outputs[index][0]
	if math.IsNaN(float64(value)) || math.IsInf(float64(value), 0) {
		return 0, fmt.Errorf("output %d is not finite: %v", index, value)
	}
	return value, nil
}
