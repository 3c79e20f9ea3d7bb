// run_custom_classifier runs a classifier trained with train_classifier on a
// camera or a video file and writes the annotated frames to a video file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/checkpoint"
	"github.com/Noofbiz/gesturefit/classifier"
	"github.com/Noofbiz/gesturefit/config"
	"github.com/Noofbiz/gesturefit/datasets"
	"github.com/Noofbiz/gesturefit/inference"
	"github.com/Noofbiz/gesturefit/training"
	"github.com/Noofbiz/gesturefit/video"
	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
)

type options struct {
	CustomClassifier string
	CameraID         int
	PathIn           string
	PathOut          string
	Title            string
	UseGPU           bool
	WeightsDir       string
	ModelName        string
	ModelVersion     string

	openFile   video.Opener
	openCamera func(id int, fps float64, width, height int) (video.Source, error)
	createSink func(path string, fps float64, width, height int) (video.Sink, error)
}

func main() {
	parser := argparse.NewParser("run_custom_classifier", "Run a custom gesture classifier on a camera or video file")
	custom := parser.String("", "custom_classifier", &argparse.Options{Help: "Directory written by train_classifier", Required: true})
	cameraID := parser.Int("", "camera_id", &argparse.Options{Help: "Camera device index", Default: 0})
	pathIn := parser.String("", "path_in", &argparse.Options{Help: "Video file to run on instead of the camera"})
	pathOut := parser.String("", "path_out", &argparse.Options{Help: "Video file to write annotated frames to"})
	title := parser.String("", "title", &argparse.Options{Help: "Title drawn on every frame"})
	useGPU := parser.Flag("", "use_gpu", &argparse.Options{Help: "Request GPU acceleration (computation stays on the CPU)"})
	weightsDir := parser.String("", "weights_dir", &argparse.Options{Help: "Directory holding backbone/<model>_<version>.ckpt", Default: "resources"})
	modelName := parser.String("", "model_name", &argparse.Options{Help: "Backbone model name (default: from the training record)"})
	modelVersion := parser.String("", "model_version", &argparse.Options{Help: "Backbone model version (default: from the training record)"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := options{
		CustomClassifier: *custom,
		CameraID:         *cameraID,
		PathIn:           *pathIn,
		PathOut:          *pathOut,
		Title:            *title,
		UseGPU:           *useGPU,
		WeightsDir:       *weightsDir,
		ModelName:        *modelName,
		ModelVersion:     *modelVersion,
	}
	if _, err := run(ctx, opts, logger); err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

// loadModel rebuilds the combined backbone and softmax head from a training
// output directory.
func loadModel(opts options, log logs.Log) (*inference.Engine, *datasets.LabelMap, error) {
	name, version := opts.ModelName, opts.ModelVersion
	recordPath := filepath.Join(opts.CustomClassifier, training.TrainingRecordName)
	if record, err := config.LoadTrainingRecord(recordPath); err == nil {
		if name == "" {
			name = record.BackboneName
		}
		if version == "" {
			version = record.BackboneVersion
		}
	} else {
		log.Warnf("No training record: %v", err)
	}

	modelCfg, weightsPath, err := config.SelectModelConfig(config.SupportedModelConfigurations(), name, version, opts.WeightsDir)
	if err != nil {
		return nil, nil, err
	}
	arch, err := backbone.ArchitectureFor(modelCfg.ModelName)
	if err != nil {
		return nil, nil, err
	}
	weights, err := checkpoint.Load(weightsPath)
	if err != nil {
		return nil, nil, err
	}
	custom, err := checkpoint.Load(filepath.Join(opts.CustomClassifier, training.BestCheckpointName))
	if err != nil {
		return nil, nil, err
	}
	merged, headWeights := checkpoint.Merge(weights, custom)
	net, err := backbone.New(arch, merged)
	if err != nil {
		return nil, nil, err
	}
	head, err := classifier.HeadFromStateDict(headWeights, true)
	if err != nil {
		return nil, nil, err
	}

	labelsPath := filepath.Join(opts.CustomClassifier, training.LabelMapName)
	labels, err := datasets.LoadLabelMap(labelsPath)
	if err != nil {
		return nil, nil, err
	}
	if labels.Len() != head.NumOut {
		return nil, nil, fmt.Errorf("classifier has %d outputs but %s lists %d labels", head.NumOut, labelsPath, labels.Len())
	}

	engine, err := inference.NewEngine(net, head)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("Loaded %s with %s: expected camera fps %.1f, inference fps %.1f", modelCfg, head, engine.ExpectedFPS(), engine.InferenceFPS())
	return engine, labels, nil
}

func run(ctx context.Context, opts options, log logs.Log) (inference.Stats, error) {
	if opts.openFile == nil {
		opts.openFile = video.OpenFile
	}
	if opts.openCamera == nil {
		opts.openCamera = video.OpenCamera
	}
	if opts.createSink == nil {
		opts.createSink = func(path string, fps float64, width, height int) (video.Sink, error) {
			w, err := video.CreateFile(path, fps, width, height)
			if err != nil {
				return nil, err
			}
			return w, nil
		}
	}
	if opts.UseGPU {
		log.Warnf("GPU requested, but inference runs on the CPU")
	}

	engine, labels, err := loadModel(opts, log)
	if err != nil {
		return inference.Stats{}, err
	}
	arch := engine.Arch()

	var src video.Source
	if opts.PathIn != "" {
		src, err = opts.openFile(opts.PathIn, arch.FPS, arch.FrameWidth, arch.FrameHeight)
	} else {
		src, err = opts.openCamera(opts.CameraID, arch.FPS, arch.FrameWidth, arch.FrameHeight)
	}
	if err != nil {
		return inference.Stats{}, err
	}
	defer src.Close()

	ctrl := &inference.Controller{
		Engine: engine,
		Post:   inference.NewPostprocessor(labels.Names(), inference.PostprocessOptions{}),
		Ops:    inference.DefaultDisplayOps(opts.Title, engine.ExpectedFPS(), engine.InferenceFPS()),
		Source: src,
		Log:    log,
	}
	if opts.PathOut != "" {
		sink, err := opts.createSink(opts.PathOut, arch.FPS, arch.FrameWidth, arch.FrameHeight)
		if err != nil {
			return inference.Stats{}, err
		}
		ctrl.Sink = sink
	}

	stats, err := ctrl.Run(ctx)
	if ctrl.Sink != nil {
		if cerr := ctrl.Sink.Close(); err == nil {
			err = cerr
		}
	}
	return stats, err
}
