// Package enginetest provides an in-memory engine that returns canned tensors.
package enginetest

import (
	"fmt"
	"sync"

	"github.com/Tutortoise/detection-pipeline/engine"
	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/tensor"
)

// Engine hands out Model from Load, or fails with LoadErr.
type Engine struct {
	Model   *Model
	LoadErr error
}

func (e *Engine) Load(modelPath string) (engine.Model, error) {
	if e.LoadErr != nil {
		return nil, models.NewError(models.ErrModelLoad, fmt.Sprintf("model file %s", modelPath), e.LoadErr)
	}
	return e.Model, nil
}

// Model records every binding it executes and answers with Results.
// ExecuteFunc, when set, replaces the canned answer.
type Model struct {
	InputInfo   []engine.TensorInfo
	OutputInfo  []engine.TensorInfo
	Results     map[string]*tensor.Buffer
	Err         error
	ExecuteFunc func(engine.Binding) (map[string]*tensor.Buffer, error)
	Meta        engine.Metadata

	mu       sync.Mutex
	bindings []engine.Binding
	closed   bool
}

// NewDetector returns a model shaped like a YOLOv10 export: one
// [1,3,h,w] input named "images" and one [1,n,6] output named "output0".
func NewDetector(width, height int, output *tensor.Buffer) *Model {
	return &Model{
		InputInfo: []engine.TensorInfo{{
			Name:     "images",
			Shape:    tensor.NewShape(1, 3, int64(height), int64(width)),
			DataType: "float32",
		}},
		OutputInfo: []engine.TensorInfo{{
			Name:     "output0",
			Shape:    output.Shape(),
			DataType: "float32",
		}},
		Results: map[string]*tensor.Buffer{"output0": output},
	}
}

func (m *Model) Inputs() []engine.TensorInfo  { return m.InputInfo }
func (m *Model) Outputs() []engine.TensorInfo { return m.OutputInfo }

func (m *Model) Execute(b engine.Binding) (map[string]*tensor.Buffer, error) {
	m.mu.Lock()
	m.bindings = append(m.bindings, b)
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("model is closed")
	}
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(b)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]*tensor.Buffer, len(b.Outputs))
	for _, name := range b.Outputs {
		r, ok := m.Results[name]
		if !ok {
			return nil, fmt.Errorf("invalid output name %q", name)
		}
		out[name] = r
	}
	return out, nil
}

// Bindings returns every binding executed so far.
func (m *Model) Bindings() []engine.Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Binding, len(m.bindings))
	copy(out, m.bindings)
	return out
}

func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings)
}

func (m *Model) Metadata() (engine.Metadata, error) {
	return m.Meta, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// DetectionOutput builds a [1,len(rows),6] buffer from rows of
// x1, y1, x2, y2, confidence, class.
func DetectionOutput(rows ...[6]float32) *tensor.Buffer {
	data := make([]float32, 0, len(rows)*6)
	for _, r := range rows {
		data = append(data, r[:]...)
	}
	buf, err := tensor.FromSlice(tensor.NewShape(1, int64(len(rows)), 6), data)
	if err != nil {
		panic(err)
	}
	return buf
}
