// Package engine describes the inference engine the pipeline consumes and
// provides an ONNX Runtime implementation of it.
package engine

import (
	"github.com/Tutortoise/detection-pipeline/tensor"
)

// TensorInfo describes one input or output declared by a model.
type TensorInfo struct {
	Name     string
	Shape    tensor.Shape
	DataType string
}

// NamedTensor pairs an input name with the buffer bound to it.
type NamedTensor struct {
	Name   string
	Tensor *tensor.Buffer
}

// Binding is the ordered set of inputs and requested output names for one
// execution. Names are not checked here; the engine reports mismatches.
type Binding struct {
	Inputs  []NamedTensor
	Outputs []string
}

// InputNames returns the input names in binding order.
func (b Binding) InputNames() []string {
	names := make([]string, len(b.Inputs))
	for i, in := range b.Inputs {
		names[i] = in.Name
	}
	return names
}

// Engine loads models.
type Engine interface {
	Load(modelPath string) (Model, error)
}

// Model is a loaded model handle. Execute blocks until all requested outputs
// are produced or the engine fails.
type Model interface {
	Inputs() []TensorInfo
	Outputs() []TensorInfo
	Execute(b Binding) (map[string]*tensor.Buffer, error)
	Close() error
}

// Metadata is the administrative description stored in a model file.
type Metadata struct {
	ProducerName string
	GraphName    string
	Domain       string
	Description  string
	Version      int64
	Custom       map[string]string
}

// MetadataReader is implemented by models that can report their metadata.
type MetadataReader interface {
	Metadata() (Metadata, error)
}
