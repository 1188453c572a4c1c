package core

import (
	"fmt"

	"gorgonia.org/tensor"
)

// InputSize is the height and width both networks were built for.
const InputSize = 224

// Output positions of the depth network.
const (
	ClassOutputIndex = 0
	DepthOutputIndex = 1
)

type Model interface {
	// Predict runs one forward pass and returns every output flattened, in the
	// order the network declares them.
	Predict(input *tensor.Dense) ([][]float32, error)

	Release()
}

// Signature is the fixed topology contract a loaded network must satisfy.
// A -1 in InputShape marks the batch dimension.
type Signature struct {
	InputShape []int64
	Outputs    int
}

var (
	// DepthSignature is the backbone with a sigmoid class head and a linear
	// depth regression head.
	DepthSignature = Signature{InputShape: []int64{-1, InputSize, InputSize, 3}, Outputs: 2}

	// GateSignature is the standalone tire/non-tire classifier.
	GateSignature = Signature{InputShape: []int64{-1, InputSize, InputSize, 3}, Outputs: 1}
)

// Accepts reports whether a tensor of the given shape can be fed to the
// network. Dynamic dimensions only accept a batch of one.
func (s Signature) Accepts(shape tensor.Shape) error {
	if len(shape) != len(s.InputShape) {
		return fmt.Errorf("input has shape %v, expected rank %d", shape, len(s.InputShape))
	}
	for i, want := range s.InputShape {
		got := int64(shape[i])
		if (want < 0 && got != 1) || (want >= 0 && got != want) {
			return fmt.Errorf("input has shape %v, expected %v", shape, s.InputShape)
		}
	}
	return nil
}
