package engine

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/tensor"
)

// SessionConfig is applied to every session the runtime creates.
type SessionConfig struct {
	IntraOpThreads int
	InterOpThreads int
	CPUMemArena    bool
	MemPattern     bool
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IntraOpThreads: runtime.NumCPU(),
		InterOpThreads: runtime.NumCPU(),
		CPUMemArena:    true,
		MemPattern:     true,
	}
}

// Runtime owns the process-wide ONNX Runtime environment. Create one with
// NewRuntime before loading models and Close it at exit.
type Runtime struct {
	mu      sync.RWMutex
	closed  bool
	session SessionConfig
}

// NewRuntime points onnxruntime_go at libPath and initializes the environment.
func NewRuntime(libPath string, cfg SessionConfig) (*Runtime, error) {
	if libPath != "" {
		if _, err := os.Stat(libPath); err != nil {
			return nil, models.NewError(models.ErrModelLoad, "onnxruntime shared library not found", err)
		}
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, models.NewError(models.ErrModelLoad, "initialize onnxruntime environment", err)
	}
	return &Runtime{session: cfg}, nil
}

// Version reports the loaded onnxruntime library version.
func (r *Runtime) Version() string {
	return ort.GetVersion()
}

func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return ort.DestroyEnvironment()
}

func (r *Runtime) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Load reads the declared inputs and outputs of modelPath. Sessions are
// created lazily, one per distinct set of bound names.
func (r *Runtime) Load(modelPath string) (Model, error) {
	if r.isClosed() {
		return nil, models.Errorf(models.ErrModelLoad, "runtime is closed")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, models.NewError(models.ErrModelLoad, fmt.Sprintf("model file %s", modelPath), err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, models.NewError(models.ErrModelLoad, fmt.Sprintf("read model %s", modelPath), err)
	}

	m := &ortModel{
		runtime:  r,
		path:     modelPath,
		inputs:   convertInfo(inputs),
		outputs:  convertInfo(outputs),
		sessions: make(map[string]*ort.DynamicAdvancedSession),
	}
	return m, nil
}

func convertInfo(infos []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, TensorInfo{
			Name:     info.Name,
			Shape:    tensor.Shape(info.Dimensions),
			DataType: fmt.Sprintf("%v", info.DataType),
		})
	}
	return out
}

func (r *Runtime) newSessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	if r.session.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(r.session.IntraOpThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	if r.session.InterOpThreads > 0 {
		if err := options.SetInterOpNumThreads(r.session.InterOpThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("set inter-op threads: %w", err)
		}
	}
	if err := options.SetCpuMemArena(r.session.CPUMemArena); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("set cpu mem arena: %w", err)
	}
	if err := options.SetMemPattern(r.session.MemPattern); err != nil {
		options.Destroy()
		return nil, fmt.Errorf("set mem pattern: %w", err)
	}
	return options, nil
}

type ortModel struct {
	runtime *Runtime
	path    string
	inputs  []TensorInfo
	outputs []TensorInfo

	mu       sync.Mutex
	closed   bool
	sessions map[string]*ort.DynamicAdvancedSession
}

func (m *ortModel) Inputs() []TensorInfo  { return m.inputs }
func (m *ortModel) Outputs() []TensorInfo { return m.outputs }

func sessionKey(inputs, outputs []string) string {
	return strings.Join(inputs, "\x00") + "\x01" + strings.Join(outputs, "\x00")
}

func (m *ortModel) session(inputs, outputs []string) (*ort.DynamicAdvancedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("model %s is closed", m.path)
	}
	key := sessionKey(inputs, outputs)
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	options, err := m.runtime.newSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	s, err := ort.NewDynamicAdvancedSession(m.path, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	m.sessions[key] = s
	return s, nil
}

// Execute runs the model once. Output tensors are copied into Go-owned
// buffers before the engine's values are released.
func (m *ortModel) Execute(b Binding) (map[string]*tensor.Buffer, error) {
	if m.runtime.isClosed() {
		return nil, fmt.Errorf("runtime is closed")
	}
	s, err := m.session(b.InputNames(), b.Outputs)
	if err != nil {
		return nil, err
	}

	inputs := make([]ort.Value, 0, len(b.Inputs))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, in := range b.Inputs {
		t, err := ort.NewTensor(ort.Shape(in.Tensor.Shape()), in.Tensor.Data())
		if err != nil {
			return nil, fmt.Errorf("error creating input tensor %q: %w", in.Name, err)
		}
		inputs = append(inputs, t)
	}

	outputs := make([]ort.Value, len(b.Outputs))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	if err := s.Run(inputs, outputs); err != nil {
		return nil, err
	}

	result := make(map[string]*tensor.Buffer, len(outputs))
	for i, v := range outputs {
		name := b.Outputs[i]
		t, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %q is not a float32 tensor", name)
		}
		data := make([]float32, len(t.GetData()))
		copy(data, t.GetData())
		buf, err := tensor.FromSlice(tensor.Shape(t.GetShape()), data)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", name, err)
		}
		result[name] = buf
	}
	return result, nil
}

func (m *ortModel) Metadata() (Metadata, error) {
	md, err := ort.GetModelMetadata(m.path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	defer md.Destroy()

	var out Metadata
	if out.ProducerName, err = md.GetProducerName(); err != nil {
		return out, err
	}
	if out.GraphName, err = md.GetGraphName(); err != nil {
		return out, err
	}
	if out.Domain, err = md.GetDomain(); err != nil {
		return out, err
	}
	if out.Description, err = md.GetDescription(); err != nil {
		return out, err
	}
	if out.Version, err = md.GetVersion(); err != nil {
		return out, err
	}
	keys, err := md.GetCustomMetadataMapKeys()
	if err != nil {
		return out, err
	}
	out.Custom = make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := md.LookupCustomMetadataMap(k)
		if err != nil {
			return out, err
		}
		if ok {
			out.Custom[k] = v
		}
	}
	return out, nil
}

func (m *ortModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for key, s := range m.sessions {
		if err := s.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.sessions, key)
	}
	return firstErr
}
