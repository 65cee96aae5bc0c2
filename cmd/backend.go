package cmd

import (
	"fmt"

	"github.com/andresmejia3/visage/internal/cv"
	"github.com/andresmejia3/visage/internal/face"
	"github.com/andresmejia3/visage/internal/pipeline"
	"github.com/andresmejia3/visage/internal/raster"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/worker"
)

const (
	backendOpenCV = "opencv"
	backendExec   = "exec"

	windowTitle = "Detecting Age and Gender"
)

// backend bundles the collaborators of one session.
type backend struct {
	source     pipeline.Source
	detector   pipeline.Detector
	classifier pipeline.Classifier
	renderer   pipeline.Renderer
	display    pipeline.Display
	// frames is the expected frame count, 0 when unknown.
	frames int

	engine  *worker.Engine
	closers []func() error
	// handedOff is set once the pipeline owns source and display.
	handedOff bool
}

// engineLogs returns the engine process for crash reports, if any.
func (b *backend) engineLogs() *utils.SafeCommand {
	if b == nil || b.engine == nil {
		return nil
	}
	return b.engine.Cmd
}

func (b *backend) Close() {
	if !b.handedOff {
		if b.source != nil {
			b.source.Close()
		}
		if b.display != nil {
			b.display.Close()
		}
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openEngines loads the inference engines only, for commands without a
// capture source.
func openEngines(backendName, engineCmd string, threshold float64) (*backend, error) {
	b := &backend{}

	switch backendName {
	case backendOpenCV:
		nets := make([]*cv.Net, 3)
		artifacts := [][2]string{
			{cfg.FaceModel, cfg.FaceProto},
			{cfg.GenderModel, cfg.GenderProto},
			{cfg.AgeModel, cfg.AgeProto},
		}
		for i, a := range artifacts {
			n, err := cv.LoadNet(a[0], a[1])
			if err != nil {
				return b, err
			}
			nets[i] = n
			b.closers = append(b.closers, n.Close)
		}
		b.detector = face.NewDetector(nets[0], threshold)
		b.classifier = face.NewClassifier(nets[1], nets[2])

	case backendExec:
		e, err := worker.Start(1, engineCmd)
		if err != nil {
			return b, err
		}
		b.engine = e
		b.closers = append(b.closers, e.Close)
		if err := e.Ping(); err != nil {
			return b, fmt.Errorf("engine failed its model check: %w", err)
		}
		b.detector = face.NewDetector(e.Scorer(worker.OpDetect), threshold)
		b.classifier = face.NewClassifier(e.Scorer(worker.OpGender), e.Scorer(worker.OpAge))

	default:
		return b, fmt.Errorf("unknown backend %q", backendName)
	}
	return b, nil
}

// openBackend loads the engines, then opens the capture source and display.
func openBackend(opts *Options) (*backend, error) {
	b, err := openEngines(opts.Backend, opts.EngineCmd, opts.Threshold)
	if err != nil {
		return b, fmt.Errorf("model load failed: %w", err)
	}

	switch opts.Backend {
	case backendOpenCV:
		capture, err := cv.OpenSource(opts.InputPath, opts.Camera)
		if err != nil {
			return b, err
		}
		b.source = capture
		b.frames = capture.FrameCount()
		b.renderer = cv.Renderer{}

	case backendExec:
		var src *raster.StreamSource
		if opts.InputPath != "" {
			src, err = raster.OpenFile(opts.InputPath)
		} else {
			src, err = raster.OpenCamera(opts.Camera)
		}
		if err != nil {
			return b, err
		}
		b.source = src
		if opts.Headless && opts.InputPath != "" {
			b.frames = utils.GetTotalFrames(opts.InputPath)
		}
		b.renderer = raster.NewRenderer()
	}

	if opts.Headless {
		h, err := raster.NewHeadless(opts.FramesDir)
		if err != nil {
			return b, err
		}
		b.display = h
	} else {
		b.display = cv.NewWindow(windowTitle)
	}
	return b, nil
}
