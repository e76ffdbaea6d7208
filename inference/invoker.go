// Package inference binds named tensors to a loaded model and runs it once.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Tutortoise/detection-pipeline/engine"
	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/tensor"
)

type Invoker struct {
	model  engine.Model
	logger logrus.FieldLogger
}

func NewInvoker(model engine.Model, logger logrus.FieldLogger) *Invoker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Invoker{model: model, logger: logger}
}

// Run executes the model exactly once and blocks until it returns. Engine
// failures come back as ErrInferenceEngine with the engine's error as cause.
// The context is only consulted before the call; an engine call in flight
// is not interrupted.
func (inv *Invoker) Run(ctx context.Context, b engine.Binding) (map[string]*tensor.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.ErrInferenceEngine, "run canceled", err)
	}
	if len(b.Inputs) == 0 {
		return nil, models.Errorf(models.ErrInferenceEngine, "no inputs bound")
	}
	if len(b.Outputs) == 0 {
		return nil, models.Errorf(models.ErrInferenceEngine, "no outputs requested")
	}
	for _, in := range b.Inputs {
		if in.Tensor == nil {
			return nil, models.Errorf(models.ErrInferenceEngine, "input %q has no tensor", in.Name)
		}
	}

	inv.logger.WithFields(logrus.Fields{
		"inputs":  b.InputNames(),
		"outputs": b.Outputs,
	}).Debug("running model")

	out, err := inv.model.Execute(b)
	if err != nil {
		var pe *models.ProcessingError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, models.NewError(models.ErrInferenceEngine, "model inference", err)
	}
	for _, name := range b.Outputs {
		if _, ok := out[name]; !ok {
			return nil, models.Errorf(models.ErrInferenceEngine, "engine returned no output %q", name)
		}
	}
	return out, nil
}

// Single binds one input and requests one output, the shape of every
// detector this repository drives.
func Single(inputName string, input *tensor.Buffer, outputName string) engine.Binding {
	return engine.Binding{
		Inputs:  []engine.NamedTensor{{Name: inputName, Tensor: input}},
		Outputs: []string{outputName},
	}
}

// ResolveNames fills empty names with the model's first declared input and
// output.
func ResolveNames(model engine.Model, inputName, outputName string) (string, string, error) {
	if inputName == "" {
		ins := model.Inputs()
		if len(ins) == 0 {
			return "", "", models.Errorf(models.ErrModelLoad, "model declares no inputs")
		}
		inputName = ins[0].Name
	}
	if outputName == "" {
		outs := model.Outputs()
		if len(outs) == 0 {
			return "", "", models.Errorf(models.ErrModelLoad, "model declares no outputs")
		}
		outputName = outs[0].Name
	}
	return inputName, outputName, nil
}

// Describe formats declared tensors for logs, e.g. "images[1, 3, 640, 640]".
func Describe(infos []engine.TensorInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = fmt.Sprintf("%s%v", info.Name, info.Shape)
	}
	return out
}
