// train_classifier finetunes a gesture classifier on top of a pretrained
// backbone.
//
// The dataset directory is expected to contain videos_train/<class>/ and
// optionally videos_valid/<class>/ with one sub-directory per class. Features
// are extracted once per backbone and finetuning depth and cached under
// features_<split>/. The trained classifier, its label mapping and a record of
// the run are written to --path_out.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/checkpoint"
	"github.com/Noofbiz/gesturefit/classifier"
	"github.com/Noofbiz/gesturefit/config"
	"github.com/Noofbiz/gesturefit/datasets"
	"github.com/Noofbiz/gesturefit/features"
	"github.com/Noofbiz/gesturefit/training"
	"github.com/Noofbiz/gesturefit/video"
	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

var errDeclined = errors.New("overwrite declined")

type options struct {
	PathIn              string
	PathOut             string
	ModelName           string
	ModelVersion        string
	WeightsDir          string
	NumLayersToFinetune int
	UseGPU              bool
	AnnotationsTrain    string
	AnnotationsValid    string
	TemporalTraining    bool
	Resume              bool
	Overwrite           bool
	NumEpochs           int
	BatchSize           int
	ShortVideos         string
	Workers             int
	ReuseFeatures       bool
	Seed                int64

	open     video.Opener
	schedule config.LRSchedule
	stdin    io.Reader
	stdout   io.Writer
}

func main() {
	parser := argparse.NewParser("train_classifier", "Finetune a gesture classifier on a pretrained video backbone")
	pathIn := parser.String("", "path_in", &argparse.Options{Help: "Dataset directory with videos_train/ and videos_valid/", Required: true})
	pathOut := parser.String("", "path_out", &argparse.Options{Help: "Where to store results (default <path_in>/checkpoints)"})
	modelName := parser.String("", "model_name", &argparse.Options{Help: "Backbone model name"})
	modelVersion := parser.String("", "model_version", &argparse.Options{Help: "Backbone model version"})
	weightsDir := parser.String("", "weights_dir", &argparse.Options{Help: "Directory holding backbone/<model>_<version>.ckpt", Default: "resources"})
	numLayers := parser.Int("", "num_layers_to_finetune", &argparse.Options{Help: "Number of backbone layers to finetune", Default: 9})
	useGPU := parser.Flag("", "use_gpu", &argparse.Options{Help: "Request GPU acceleration (computation stays on the CPU)"})
	annotationsTrain := parser.String("", "path_annotations_train", &argparse.Options{Help: "JSON file restricting and labelling the training videos"})
	annotationsValid := parser.String("", "path_annotations_valid", &argparse.Options{Help: "JSON file restricting and labelling the validation videos"})
	temporal := parser.Flag("", "temporal_training", &argparse.Options{Help: "Train on per-frame tags from tags_<split>/"})
	resume := parser.Flag("", "resume", &argparse.Options{Help: "Start from last_classifier.checkpoint in path_out"})
	overwrite := parser.Flag("", "overwrite", &argparse.Options{Help: "Overwrite existing results without asking"})
	numEpochs := parser.Int("", "num_epochs", &argparse.Options{Help: "Number of training epochs", Default: training.DefaultNumEpochs})
	batchSize := parser.Int("", "batch_size", &argparse.Options{Help: "Training batch size", Default: datasets.DefaultBatchSize})
	shortVideos := parser.Selector("", "short_videos", []string{"pad", "skip"}, &argparse.Options{Help: "What to do with videos shorter than the network needs", Default: "pad"})
	reuseFeatures := parser.Flag("", "reuse_features", &argparse.Options{Help: "Keep feature files from a previous run instead of recomputing them"})
	workers := parser.Int("", "workers", &argparse.Options{Help: "Videos processed concurrently during feature extraction", Default: 1})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Random seed for initialisation and shuffling", Default: 0})
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
		PathIn:              *pathIn,
		PathOut:             *pathOut,
		ModelName:           *modelName,
		ModelVersion:        *modelVersion,
		WeightsDir:          *weightsDir,
		NumLayersToFinetune: *numLayers,
		UseGPU:              *useGPU,
		AnnotationsTrain:    *annotationsTrain,
		AnnotationsValid:    *annotationsValid,
		TemporalTraining:    *temporal,
		Resume:              *resume,
		Overwrite:           *overwrite,
		NumEpochs:           *numEpochs,
		BatchSize:           *batchSize,
		ShortVideos:         *shortVideos,
		Workers:             *workers,
		ReuseFeatures:       *reuseFeatures,
		Seed:                int64(*seed),
	}
	if err := run(ctx, opts, logger); err != nil {
		if !errors.Is(err, errDeclined) {
			logger.Errorf("%v", err)
		}
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

// validateLayers rejects a finetuning depth that none of the backbones the
// name/version filters allow can support. It does no I/O.
func validateLayers(configs []config.ModelConfig, name, version string, n int) error {
	var last error
	for _, c := range configs {
		if name != "" && c.ModelName != name {
			continue
		}
		if version != "" && c.Version != version {
			continue
		}
		arch, err := backbone.ArchitectureFor(c.ModelName)
		if err != nil {
			return err
		}
		if last = config.ValidateFinetuneLayers(n, len(arch.Layers)+1); last == nil {
			return nil
		}
	}
	return last
}

// selectBackbone picks the backbone whose weights exist and checks the
// finetuning depth against its own required-frames table.
func selectBackbone(configs []config.ModelConfig, name, version, weightsDir string, n int) (config.ModelConfig, string, backbone.Architecture, error) {
	if err := validateLayers(configs, name, version, n); err != nil {
		return config.ModelConfig{}, "", backbone.Architecture{}, err
	}
	cfg, weightsPath, err := config.SelectModelConfig(configs, name, version, weightsDir)
	if err != nil {
		return config.ModelConfig{}, "", backbone.Architecture{}, err
	}
	arch, err := backbone.ArchitectureFor(cfg.ModelName)
	if err != nil {
		return config.ModelConfig{}, "", backbone.Architecture{}, err
	}
	if err := config.ValidateFinetuneLayers(n, len(arch.Layers)+1); err != nil {
		return config.ModelConfig{}, "", backbone.Architecture{}, fmt.Errorf("%s: %w", cfg, err)
	}
	return cfg, weightsPath, arch, nil
}

func run(ctx context.Context, opts options, log logs.Log) error {
	configs := config.SupportedModelConfigurations()
	modelCfg, weightsPath, arch, err := selectBackbone(configs, opts.ModelName, opts.ModelVersion, opts.WeightsDir, opts.NumLayersToFinetune)
	if err != nil {
		return err
	}
	shortVideos, err := features.ParseShortVideoPolicy(opts.ShortVideos)
	if err != nil {
		return err
	}
	if opts.stdin == nil {
		opts.stdin = os.Stdin
	}
	if opts.stdout == nil {
		opts.stdout = os.Stdout
	}
	if opts.PathOut == "" {
		opts.PathOut = filepath.Join(opts.PathIn, "checkpoints")
	}
	if opts.schedule == nil {
		opts.schedule = config.DefaultLRSchedule()
	}

	if !opts.Overwrite && !opts.Resume && len(training.ExistingOutputs(opts.PathOut)) > 0 {
		ok, err := training.ConfirmOverwrite(opts.stdin, opts.stdout, opts.PathOut)
		if err != nil {
			return err
		}
		if !ok {
			return errDeclined
		}
	}
	if err := os.MkdirAll(opts.PathOut, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	log.Infof("Using backbone %s from %s", modelCfg, weightsPath)
	weights, err := checkpoint.Load(weightsPath)
	if err != nil {
		return err
	}

	var headWeights checkpoint.Checkpoint
	if opts.Resume {
		lastPath := filepath.Join(opts.PathOut, training.LastCheckpointName)
		last, err := checkpoint.Load(lastPath)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		weights, headWeights = checkpoint.Merge(weights, last)
		log.Infof("Resuming from %s", lastPath)
	}

	net, err := backbone.New(arch, weights)
	if err != nil {
		return err
	}
	n := opts.NumLayersToFinetune
	prefix, tail, err := net.Split(n)
	if err != nil {
		return err
	}
	numTimesteps := 1
	if n > 0 {
		numTimesteps = net.RequiredFrames()[n]
	}

	layout := config.Layout{Root: opts.PathIn}
	classes, err := datasets.ClassNames(layout.VideosDir(config.SplitTrain))
	if err != nil {
		return err
	}
	labels, err := datasets.NewLabelMap(classes)
	if err != nil {
		return err
	}
	mode := datasets.WholeVideo
	outputLabels := labels
	var temporalLabels *datasets.LabelMap
	if opts.TemporalTraining {
		mode = datasets.Temporal
		temporalLabels, err = datasets.NewLabelMap(datasets.TemporalLabelNames(classes))
		if err != nil {
			return err
		}
		outputLabels = temporalLabels
	}
	// label2int.json always matches the outputs of the saved classifier.
	if err := outputLabels.Save(filepath.Join(opts.PathOut, training.LabelMapName)); err != nil {
		return err
	}
	labelNames := outputLabels.Names()

	extractor, err := features.NewExtractor(features.Options{
		Network:       prefix,
		MinimumFrames: net.MinimumFrames(),
		NumTimesteps:  numTimesteps,
		ShortVideos:   shortVideos,
		SkipExisting:  opts.ReuseFeatures,
		UseGPU:        opts.UseGPU,
		Workers:       opts.Workers,
		Open:          opts.open,
		Log:           log,
	})
	if err != nil {
		return err
	}

	sets := map[string]*datasets.FeatureDataset{}
	annotations := map[string]string{
		config.SplitTrain: opts.AnnotationsTrain,
		config.SplitValid: opts.AnnotationsValid,
	}
	for _, split := range []string{config.SplitTrain, config.SplitValid} {
		videosDir := layout.VideosDir(split)
		if _, err := os.Stat(videosDir); split == config.SplitValid && os.IsNotExist(err) {
			log.Warnf("No validation videos found in %s", videosDir)
			continue
		}
		featuresDir := layout.FeaturesDir(split, modelCfg, n)
		stats, err := extractor.Extract(videosDir, featuresDir)
		if err != nil {
			return err
		}
		log.Infof("%s features: %d written, %d skipped, %d reused", split, stats.Written, stats.Skipped, stats.Reused)

		dsOpts := datasets.Options{
			FeaturesDir:    featuresDir,
			TagsDir:        layout.TagsDir(split),
			ClassNames:     classes,
			Labels:         labels,
			TemporalLabels: temporalLabels,
			Stride:         prefix.StepSize(),
			Mode:           mode,
		}
		if path := annotations[split]; path != "" {
			if dsOpts.Annotations, err = datasets.LoadAnnotations(path); err != nil {
				return err
			}
		}
		ds, err := datasets.NewFeatureDataset(dsOpts)
		if err != nil {
			return err
		}
		log.Infof("%s split: %d videos", split, ds.Len())
		sets[split] = ds
	}

	head, err := classifier.NewLogisticRegression(net.FeatureDim(), len(labelNames), false, opts.Seed)
	if err != nil {
		return err
	}
	if headWeights != nil {
		if err := head.LoadStateDict(headWeights); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
	}
	trainable, err := classifier.New(tail, head)
	if err != nil {
		return err
	}
	log.Infof("Training %s", trainable)

	record := &config.TrainingRecord{
		RunID:               uuid.NewString(),
		BackboneName:        modelCfg.ModelName,
		BackboneVersion:     modelCfg.Version,
		NumLayersToFinetune: n,
		Classifier:          head.String(),
		TemporalTraining:    opts.TemporalTraining,
		LRSchedule:          opts.schedule,
		NumEpochs:           opts.NumEpochs,
		BatchSize:           opts.BatchSize,
		StartTime:           config.FormatTime(time.Now()),
	}
	recordPath := filepath.Join(opts.PathOut, training.TrainingRecordName)
	if err := record.Save(recordPath); err != nil {
		return err
	}

	trainOpts := training.Options{
		Network: trainable,
		Train: datasets.NewLoader(sets[config.SplitTrain], datasets.LoaderOptions{
			BatchSize:    opts.BatchSize,
			Shuffle:      true,
			NumTimesteps: trainable.RequiredRows(),
			Seed:         opts.Seed,
		}),
		Temporal:   opts.TemporalTraining,
		LabelNames: labelNames,
		Schedule:   record.LRSchedule,
		NumEpochs:  opts.NumEpochs,
		PathOut:    opts.PathOut,
		Log:        log,
	}
	if valid, ok := sets[config.SplitValid]; ok {
		trainOpts.Valid = datasets.NewValidationLoader(valid, trainable.RequiredRows())
	}
	res, err := training.Train(ctx, trainOpts)
	if err != nil {
		return err
	}

	record.EndTime = config.FormatTime(time.Now())
	if err := record.Save(recordPath); err != nil {
		return err
	}
	log.Infof("Best epoch %d (loss %.4f), accuracy %.2f%%. Results in %s",
		res.BestEpoch, res.BestLoss, 100*res.Confusion.Accuracy(), opts.PathOut)
	return nil
}
