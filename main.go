package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Tutortoise/detection-pipeline/config"
	"github.com/Tutortoise/detection-pipeline/detections"
	"github.com/Tutortoise/detection-pipeline/engine"
	"github.com/Tutortoise/detection-pipeline/inference"
	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/sysinfo"
	"github.com/Tutortoise/detection-pipeline/tensor"
)

func newLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func logTimings(logger logrus.FieldLogger, t *models.ProcessingTimings) {
	logger.WithFields(logrus.Fields{
		"request_id":  t.RequestID,
		"decode":      t.ImageDecode,
		"resize":      t.Resize,
		"preprocess":  t.Preprocess,
		"inference":   t.Inference,
		"postprocess": t.Postprocess,
		"render":      t.Render,
		"total":       t.Total,
	}).Debug("processing times")
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	var logger *logrus.Logger

	detectAction := func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return withRuntime(cfg, func(eng engine.Engine) error {
			return runDetect(c.Context, eng, cfg, logger, c.App.Writer)
		})
	}

	return &cli.App{
		Name:  "detect",
		Usage: "run an ONNX object detector over an image and draw the boxes",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` (.json)",
			},
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"DEBUG"},
				Usage:   "enable debug logging and per-stage timings",
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "path to the ONNX model",
			},
			&cli.StringFlag{
				Name:    "library",
				EnvVars: []string{engine.LibraryPathEnv},
				Usage:   "path to the onnxruntime shared library",
			},
			&cli.IntFlag{Name: "intra-op-threads", Usage: "intra-op thread count"},
			&cli.IntFlag{Name: "inter-op-threads", Usage: "inter-op thread count"},
		}, detectFlags()...),
		Before: func(c *cli.Context) error {
			logger = newLogger(c.Bool("debug"))
			return nil
		},
		// With no command the app behaves like "detect".
		Action: detectAction,
		Commands: []*cli.Command{
			{
				Name:   "detect",
				Usage:  "detect objects in one image and write the annotated result",
				Flags:  detectFlags(),
				Action: detectAction,
			},
			{
				Name:      "inspect",
				Usage:     "print a model's declared tensors and metadata",
				ArgsUsage: "[MODEL]",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					if c.Args().Present() {
						cfg.ModelPath = c.Args().First()
					}
					return withRuntime(cfg, func(eng engine.Engine) error {
						return runInspect(eng, cfg.ModelPath, c.App.Writer)
					})
				},
			},
			{
				Name:  "sysinfo",
				Usage: "print platform, CPU and memory details and the runtime version",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					version := ""
					rt, err := engine.NewRuntime(cfg.LibraryPath, cfg.SessionConfig())
					if err != nil {
						logger.WithError(err).Warn("onnxruntime unavailable")
					} else {
						version = rt.Version()
						defer rt.Close()
					}
					report, err := sysinfo.Collect(version, cfg.LibraryPath)
					if err != nil {
						logger.WithError(err).Warn("partial system report")
					}
					fmt.Fprintln(c.App.Writer, report.String())
					return nil
				},
			},
			{
				Name:  "serve",
				Usage: "serve detections over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "listen address"},
					&cli.IntFlag{Name: "pool-size", Usage: "number of concurrent sessions"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					return withRuntime(cfg, func(eng engine.Engine) error {
						return runServe(c.Context, eng, cfg, logger)
					})
				},
			},
		},
	}
}

func detectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "input image `FILE`"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "annotated output image `FILE`"},
		&cli.Float64Flag{Name: "threshold", Aliases: []string{"t"}, Usage: "confidence threshold; candidates must exceed it"},
		&cli.IntFlag{Name: "width", Usage: "model input width"},
		&cli.IntFlag{Name: "height", Usage: "model input height"},
		&cli.StringFlag{Name: "input-name", Usage: "model input tensor name (default: first declared)"},
		&cli.StringFlag{Name: "output-name", Usage: "model output tensor name (default: first declared)"},
		&cli.StringFlag{Name: "labels", Usage: "class names `FILE`, one per line"},
		&cli.BoolFlag{Name: "no-rescale", Usage: "draw boxes in model input coordinates"},
		&cli.StringFlag{Name: "suppression", Usage: "overlap reduction: none, nms or cluster"},
		&cli.Float64Flag{Name: "iou", Usage: "IoU threshold for nms and cluster"},
	}
}

// loadConfig reads the config file, if any, applies flags on top and
// validates the result.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if c.IsSet("model") {
		cfg.ModelPath = c.String("model")
	}
	if c.IsSet("library") {
		cfg.LibraryPath = c.String("library")
	}
	if c.IsSet("intra-op-threads") {
		cfg.IntraOpThreads = c.Int("intra-op-threads")
	}
	if c.IsSet("inter-op-threads") {
		cfg.InterOpThreads = c.Int("inter-op-threads")
	}
	if c.IsSet("input") {
		cfg.InputPath = c.String("input")
	}
	if c.IsSet("output") {
		cfg.OutputPath = c.String("output")
	}
	if c.IsSet("threshold") {
		cfg.Threshold = c.Float64("threshold")
	}
	if c.IsSet("width") {
		cfg.InputWidth = c.Int("width")
	}
	if c.IsSet("height") {
		cfg.InputHeight = c.Int("height")
	}
	if c.IsSet("input-name") {
		cfg.InputName = c.String("input-name")
	}
	if c.IsSet("output-name") {
		cfg.OutputName = c.String("output-name")
	}
	if c.IsSet("labels") {
		cfg.LabelsPath = c.String("labels")
	}
	if c.Bool("no-rescale") {
		cfg.RescaleBoxes = false
	}
	if c.IsSet("suppression") {
		cfg.Suppression = c.String("suppression")
	}
	if c.IsSet("iou") {
		cfg.IouThreshold = c.Float64("iou")
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("pool-size") {
		cfg.Server.PoolSize = c.Int("pool-size")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openEngine starts the engine the commands run against. Tests swap it out.
var openEngine = func(cfg *config.Config) (engine.Engine, io.Closer, error) {
	rt, err := engine.NewRuntime(cfg.LibraryPath, cfg.SessionConfig())
	if err != nil {
		return nil, nil, err
	}
	return rt, rt, nil
}

// withRuntime initializes the engine for the duration of fn.
func withRuntime(cfg *config.Config, fn func(engine.Engine) error) error {
	eng, closer, err := openEngine(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	return fn(eng)
}

func newPipeline(eng engine.Engine, cfg *config.Config, logger logrus.FieldLogger) (*detections.Pipeline, error) {
	opts, err := cfg.PipelineOptions()
	if err != nil {
		return nil, err
	}
	model, err := eng.Load(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	p, err := detections.NewPipeline(model, opts, logger)
	if err != nil {
		model.Close()
		return nil, err
	}
	return p, nil
}

func runDetect(ctx context.Context, eng engine.Engine, cfg *config.Config, logger logrus.FieldLogger, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := newPipeline(eng, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.Run(ctx, cfg.InputPath, cfg.OutputPath)
	if err != nil {
		return err
	}
	logTimings(logger, &res.Timings)

	renderer := p.Renderer()
	for _, d := range res.Detections {
		fmt.Fprintf(w, "%-16s box=[%d %d %d %d]\n", renderer.Label(d), d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
	}
	fmt.Fprintf(w, "%s Saved as %s\n", getDetectionMessage(len(res.Detections)), res.OutputPath)
	return nil
}

func runInspect(eng engine.Engine, modelPath string, w io.Writer) error {
	model, err := eng.Load(modelPath)
	if err != nil {
		return err
	}
	defer model.Close()

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Kind", "#", "Name", "Shape", "Type", "Size"})
	for i, info := range model.Inputs() {
		t.AppendRow(table.Row{"input", i, info.Name, info.Shape.String(), info.DataType, tensorSize(info.Shape)})
	}
	for i, info := range model.Outputs() {
		t.AppendRow(table.Row{"output", i, info.Name, info.Shape.String(), info.DataType, tensorSize(info.Shape)})
	}
	fmt.Fprintln(w, t.Render())

	reader, ok := model.(engine.MetadataReader)
	if !ok {
		return nil
	}
	md, err := reader.Metadata()
	if err != nil {
		return models.NewError(models.ErrModelLoad, "read model metadata", err)
	}

	mt := table.NewWriter()
	mt.AppendHeader(table.Row{"Field", "Value"})
	mt.AppendRow(table.Row{"Graph name", md.GraphName})
	mt.AppendRow(table.Row{"Domain", md.Domain})
	mt.AppendRow(table.Row{"Description", md.Description})
	mt.AppendRow(table.Row{"Producer name", md.ProducerName})
	mt.AppendRow(table.Row{"Graph version", md.Version})
	keys := make([]string, 0, len(md.Custom))
	for k := range md.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		mt.AppendRow(table.Row{fmt.Sprintf("Custom [%s]", k), md.Custom[k]})
	}
	fmt.Fprintln(w, mt.Render())
	return nil
}

// tensorSize is the float32 byte size of a fully known shape.
func tensorSize(shape tensor.Shape) string {
	if len(shape) == 0 || shape.Validate() != nil {
		return "dynamic"
	}
	return units.BytesSize(float64(shape.Elements() * tensor.ElementSize))
}

func runServe(ctx context.Context, eng engine.Engine, cfg *config.Config, logger logrus.FieldLogger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	timeout, err := cfg.Server.Timeout()
	if err != nil {
		return err
	}
	pool, err := NewPipelinePool(cfg.Server.PoolSize, timeout, func() (*detections.Pipeline, error) {
		return newPipeline(eng, cfg, logger)
	})
	if err != nil {
		return err
	}
	defer pool.Destroy()

	if first, err := pool.Acquire(ctx); err == nil {
		logger.WithFields(logrus.Fields{
			"inputs":  inference.Describe(first.Model().Inputs()),
			"outputs": inference.Describe(first.Model().Outputs()),
		}).Info("model loaded")
		pool.Release(first)
	}

	state := &AppState{
		Pool:           pool,
		Logger:         logger,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}
	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.Server.Addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
