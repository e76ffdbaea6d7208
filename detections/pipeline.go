package detections

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Tutortoise/detection-pipeline/engine"
	"github.com/Tutortoise/detection-pipeline/inference"
	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/surface"
)

type Options struct {
	Width, Height int
	Threshold     float32
	// Empty names select the model's first declared input or output.
	InputName  string
	OutputName string
	// RescaleBoxes maps boxes from the model input size to the original image.
	RescaleBoxes bool
	Suppression  Suppression
	IouThreshold float64
	Labels       []string
	Style        RenderStyle
}

func DefaultOptions() Options {
	return Options{
		Width:        InputWidth,
		Height:       InputHeight,
		Threshold:    ConfThreshold,
		RescaleBoxes: true,
		Suppression:  SuppressNone,
		IouThreshold: IouThreshold,
		Style:        DefaultRenderStyle(),
	}
}

// Pipeline runs preprocess, inference, decode and render for one image at a
// time. Stages run sequentially; a Pipeline may be reused for many images.
type Pipeline struct {
	model    engine.Model
	invoker  *inference.Invoker
	prep     *Preprocessor
	renderer *Renderer
	opts     Options
	logger   logrus.FieldLogger
}

// Result is what a full run produced.
type Result struct {
	Detections []models.Detection
	Annotated  image.Image
	OutputPath string
	Timings    models.ProcessingTimings
}

func NewPipeline(model engine.Model, opts Options, logger logrus.FieldLogger) (*Pipeline, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, models.Errorf(models.ErrInvalidConfig, "invalid input size %dx%d", opts.Width, opts.Height)
	}
	in, out, err := inference.ResolveNames(model, opts.InputName, opts.OutputName)
	if err != nil {
		return nil, err
	}
	opts.InputName, opts.OutputName = in, out

	logger.WithFields(logrus.Fields{
		"inputs":  inference.Describe(model.Inputs()),
		"outputs": inference.Describe(model.Outputs()),
		"bind_in": in,
		"bind_to": out,
	}).Debug("pipeline ready")

	return &Pipeline{
		model:    model,
		invoker:  inference.NewInvoker(model, logger),
		prep:     NewPreprocessor(opts.Width, opts.Height),
		renderer: NewRenderer(opts.Style, opts.Labels),
		opts:     opts,
		logger:   logger,
	}, nil
}

func (p *Pipeline) Options() Options {
	return p.opts
}

func (p *Pipeline) Model() engine.Model {
	return p.model
}

func (p *Pipeline) Renderer() *Renderer {
	return p.renderer
}

// Detect returns the kept detections for img. Boxes are in img's pixel
// space when RescaleBoxes is set, otherwise in model input space.
func (p *Pipeline) Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	if err := surface.CheckFrame(img); err != nil {
		return nil, err
	}

	resizeStart := time.Now()
	resized := surface.Resize(img, p.opts.Width, p.opts.Height)
	timings.Resize = time.Since(resizeStart)

	prepStart := time.Now()
	input, err := p.prep.Planarize(resized)
	if err != nil {
		return nil, fmt.Errorf("prepare input buffer: %w", err)
	}
	timings.Preprocess = time.Since(prepStart)

	inferStart := time.Now()
	outputs, err := p.invoker.Run(ctx, inference.Single(p.opts.InputName, input, p.opts.OutputName))
	if err != nil {
		return nil, err
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	output := outputs[p.opts.OutputName]
	if output != nil {
		p.logger.WithField("shape", output.Shape().String()).Debug("output shape")
	}

	dets, err := DecodeAll(output, p.opts.Threshold)
	if err != nil {
		return nil, err
	}
	dets = Suppress(dets, p.opts.Suppression, p.opts.IouThreshold)
	if p.opts.RescaleBoxes {
		b := img.Bounds()
		dets = Rescale(dets, p.opts.Width, p.opts.Height, b.Dx(), b.Dy())
	}
	timings.Postprocess = time.Since(postStart)

	return dets, nil
}

// Annotate draws dets on a copy of img.
func (p *Pipeline) Annotate(img image.Image, dets []models.Detection) image.Image {
	return p.renderer.Draw(img, dets)
}

// Run decodes inputPath, detects, draws and writes outputPath. Nothing is
// written unless every earlier stage succeeded.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	start := time.Now()
	res := &Result{OutputPath: outputPath}
	res.Timings.RequestID = uuid.NewString()

	decodeStart := time.Now()
	img, err := surface.Decode(inputPath)
	if err != nil {
		return nil, err
	}
	res.Timings.ImageDecode = time.Since(decodeStart)

	res.Detections, err = p.Detect(ctx, img, &res.Timings)
	if err != nil {
		return nil, err
	}

	renderStart := time.Now()
	res.Annotated, err = p.renderer.Render(img, res.Detections, outputPath)
	if err != nil {
		return nil, err
	}
	res.Timings.Render = time.Since(renderStart)
	res.Timings.Total = time.Since(start)

	return res, nil
}

// Close releases the model.
func (p *Pipeline) Close() error {
	return p.model.Close()
}
