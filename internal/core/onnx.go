package core

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

func InitializeRuntime(sharedLibraryPath string) error {
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("could not init ONNX Runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() error {
	return ort.DestroyEnvironment()
}

type OnnxModel struct {
	session      *ort.DynamicAdvancedSession
	signature    Signature
	inputName    string
	outputNames  []string
	outputShapes []ort.Shape
}

var _ Model = (*OnnxModel)(nil)

// LoadOnnxModel opens the network at path after checking its declared inputs
// and outputs against sig.
func LoadOnnxModel(path string, sig Signature) (*OnnxModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata from %s: %w", path, err)
	}

	outputShapes, err := checkSignature(sig, inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("model %s does not match expected topology: %w", path, err)
	}

	outputNames := make([]string, len(outputs))
	for i, out := range outputs {
		outputNames[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputs[0].Name}, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", path, err)
	}

	return &OnnxModel{
		session:      session,
		signature:    sig,
		inputName:    inputs[0].Name,
		outputNames:  outputNames,
		outputShapes: outputShapes,
	}, nil
}

// checkSignature returns the shapes to allocate for each output with dynamic
// dimensions pinned to 1.
func checkSignature(sig Signature, inputs, outputs []ort.InputOutputInfo) ([]ort.Shape, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, found %d", len(inputs))
	}

	in := inputs[0]
	if in.OrtValueType != ort.ONNXTypeTensor || in.DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("input '%s' must be a float32 tensor", in.Name)
	}
	if len(in.Dimensions) != len(sig.InputShape) {
		return nil, fmt.Errorf("input '%s' has shape %v, expected %v", in.Name, in.Dimensions, sig.InputShape)
	}
	for i, want := range sig.InputShape {
		got := in.Dimensions[i]
		if got < 0 || got == want || (want < 0 && got == 1) {
			continue
		}
		return nil, fmt.Errorf("input '%s' has shape %v, expected %v", in.Name, in.Dimensions, sig.InputShape)
	}

	if len(outputs) != sig.Outputs {
		return nil, fmt.Errorf("expected %d outputs, found %d", sig.Outputs, len(outputs))
	}

	shapes := make([]ort.Shape, len(outputs))
	for i, out := range outputs {
		if out.OrtValueType != ort.ONNXTypeTensor || out.DataType != ort.TensorElementDataTypeFloat {
			return nil, fmt.Errorf("output '%s' must be a float32 tensor", out.Name)
		}
		if len(out.Dimensions) == 0 {
			return nil, fmt.Errorf("output '%s' has no dimensions", out.Name)
		}

		shape := make(ort.Shape, len(out.Dimensions))
		for j, dim := range out.Dimensions {
			switch {
			case dim < 0:
				shape[j] = 1
			case j > 0 && dim != 1:
				return nil, fmt.Errorf("output '%s' has shape %v, expected one value per batch item", out.Name, out.Dimensions)
			default:
				shape[j] = dim
			}
		}
		if shape[0] != 1 {
			return nil, fmt.Errorf("output '%s' has fixed batch size %d", out.Name, shape[0])
		}
		shapes[i] = shape
	}

	return shapes, nil
}

func (m *OnnxModel) Predict(input *tensor.Dense) ([][]float32, error) {
	if err := m.signature.Accepts(input.Shape()); err != nil {
		return nil, err
	}

	data, ok := input.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("model input must be float32, got %v", input.Dtype())
	}

	dims := make([]int64, len(input.Shape()))
	for i, d := range input.Shape() {
		dims[i] = int64(d)
	}

	inT, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, err
	}
	defer inT.Destroy()

	outTensors := make([]*ort.Tensor[float32], len(m.outputShapes))
	outValues := make([]ort.Value, len(m.outputShapes))
	for i, shape := range m.outputShapes {
		outT, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			return nil, err
		}
		defer outT.Destroy()
		outTensors[i] = outT
		outValues[i] = outT
	}

	if err := m.session.Run([]ort.Value{inT}, outValues); err != nil {
		return nil, fmt.Errorf("session run error: %w", err)
	}

	results := make([][]float32, len(outTensors))
	for i, outT := range outTensors {
		results[i] = append([]float32(nil), outT.GetData()...)
	}
	return results, nil
}

func (m *OnnxModel) OutputNames() []string {
	return m.outputNames
}

func (m *OnnxModel) Release() {
	m.session.Destroy()
}
