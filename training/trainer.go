package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/Noofbiz/gesturefit/checkpoint"
	"github.com/Noofbiz/gesturefit/classifier"
	"github.com/Noofbiz/gesturefit/config"
	"github.com/Noofbiz/gesturefit/datasets"
	"github.com/cyclopcam/logs"
)

// Output file names inside the run directory.
const (
	LastCheckpointName = "last_classifier.checkpoint"
	BestCheckpointName = "best_classifier.checkpoint"
	ConfusionMatrixPNG = "confusion_matrix.png"
	ConfusionMatrixNPY = "confusion_matrix.npy"
	LabelMapName       = "label2int.json"
	TrainingRecordName = "config.json"
	DefaultNumEpochs   = 80
)

// Options configures Train.
type Options struct {
	Network *classifier.Network
	Train   *datasets.Loader
	// Valid is iterated once per epoch. When it yields nothing, the training
	// loss decides which epoch is best.
	Valid *datasets.Loader
	// Temporal labels every network output with the tag of its last input
	// row instead of the video label.
	Temporal   bool
	LabelNames []string
	Schedule   config.LRSchedule
	NumEpochs  int
	PathOut    string
	Adam       AdamConfig
	Log        logs.Log
}

// EpochStats describes one epoch.
type EpochStats struct {
	Epoch     int
	LR        float64
	TrainLoss float64
	TrainAcc  float64
	ValidLoss float64
	ValidAcc  float64
	// Outputs scored during validation.
	ValidCount int
}

// Result is returned by Train.
type Result struct {
	BestEpoch int
	BestLoss  float64
	// Best is the state of the network after the best epoch.
	Best      checkpoint.Checkpoint
	Confusion *ConfusionMatrix
	History   []EpochStats
}

// BestSelector tracks the lowest loss seen so far. Ties keep the earlier
// epoch.
type BestSelector struct {
	Epoch int
	Loss  float64
}

// NewBestSelector returns a selector that accepts any finite loss.
func NewBestSelector() *BestSelector {
	return &BestSelector{Epoch: -1, Loss: math.Inf(1)}
}

// Offer reports whether loss improves on the current best, recording it if so.
func (b *BestSelector) Offer(epoch int, loss float64) bool {
	if math.IsNaN(loss) || loss >= b.Loss {
		return false
	}
	b.Epoch, b.Loss = epoch, loss
	return true
}

// Train runs the epoch loop. It writes the last checkpoint after every epoch,
// the best checkpoint whenever it improves and once more at the end, and the
// best epoch's confusion matrix once training is over.
func Train(ctx context.Context, opts Options) (*Result, error) {
	if opts.Network == nil || opts.Train == nil {
		return nil, errors.New("training needs a network and a training loader")
	}
	if opts.Log == nil {
		return nil, errors.New("training needs a logger")
	}
	if opts.NumEpochs <= 0 {
		opts.NumEpochs = DefaultNumEpochs
	}
	if len(opts.Schedule) == 0 {
		opts.Schedule = config.DefaultLRSchedule()
	}
	numClasses := opts.Network.Head.NumOut
	if len(opts.LabelNames) != numClasses {
		return nil, fmt.Errorf("network has %d outputs but %d label names were given", numClasses, len(opts.LabelNames))
	}

	net := opts.Network
	vars := net.Variables()
	optim := NewAdam(vars, opts.Adam)
	best := NewBestSelector()
	res := &Result{}

	lastPath := filepath.Join(opts.PathOut, LastCheckpointName)
	bestPath := filepath.Join(opts.PathOut, BestCheckpointName)

	for epoch := 0; epoch < opts.NumEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats := EpochStats{Epoch: epoch, LR: opts.Schedule.RateAt(epoch)}

		loss, acc, err := trainEpoch(ctx, opts, vars, optim, stats.LR)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		stats.TrainLoss, stats.TrainAcc = loss, acc

		cm := NewConfusionMatrix(numClasses)
		if opts.Valid != nil {
			stats.ValidLoss, stats.ValidCount, err = evaluate(opts, cm)
			if err != nil {
				return nil, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			stats.ValidAcc = cm.Accuracy()
		}
		score := stats.ValidLoss
		if stats.ValidCount == 0 {
			score = stats.TrainLoss
		}
		res.History = append(res.History, stats)

		opts.Log.Infof("[%d] train loss: %.4f, train acc: %.2f%%, valid loss: %.4f, valid acc: %.2f%%, lr: %g",
			epoch, stats.TrainLoss, 100*stats.TrainAcc, stats.ValidLoss, 100*stats.ValidAcc, stats.LR)

		state := net.StateDict()
		if best.Offer(epoch, score) {
			res.Best = state
			res.Confusion = cm
			if err := checkpoint.Save(bestPath, state); err != nil {
				return nil, err
			}
			opts.Log.Infof("Saved new best checkpoint (epoch %d, loss %.4f)", epoch, score)
		}
		if err := checkpoint.Save(lastPath, state); err != nil {
			return nil, err
		}
	}

	res.BestEpoch, res.BestLoss = best.Epoch, best.Loss
	if res.Best == nil {
		// Every epoch produced a NaN loss; keep the final state.
		res.Best = net.StateDict()
		res.BestEpoch = opts.NumEpochs - 1
		res.Confusion = NewConfusionMatrix(numClasses)
		opts.Log.Warnf("No epoch produced a finite loss")
	}
	if err := checkpoint.Save(bestPath, res.Best); err != nil {
		return nil, err
	}
	if err := res.Confusion.SavePNG(filepath.Join(opts.PathOut, ConfusionMatrixPNG), opts.LabelNames); err != nil {
		return nil, err
	}
	if err := res.Confusion.SaveNPY(filepath.Join(opts.PathOut, ConfusionMatrixNPY)); err != nil {
		return nil, err
	}
	return res, nil
}

// targets returns the label of every output of one sample.
func targets(net *classifier.Network, temporal bool, numOutputs, label int, tags []int) ([]int, error) {
	out := make([]int, numOutputs)
	for j := range out {
		if !temporal {
			out[j] = label
			continue
		}
		row := net.OutputRow(j)
		if row >= len(tags) {
			return nil, fmt.Errorf("output %d depends on row %d but only %d rows are tagged", j, row, len(tags))
		}
		out[j] = tags[row]
	}
	return out, nil
}

func batchTags(b *datasets.Batch, i int) []int {
	if i < len(b.Tags) {
		return b.Tags[i]
	}
	return nil
}

func trainEpoch(ctx context.Context, opts Options, vars []classifier.Variable, optim *Adam, lr float64) (float64, float64, error) {
	net := opts.Network
	opts.Train.Reset()
	var total float64
	var count, correct int
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		b, err := opts.Train.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, err
		}
		grads := net.NewGradients()
		terms := 0
		for i, in := range b.Inputs {
			logits, cache := net.ForwardTrain(in)
			want, err := targets(net, opts.Temporal, len(logits), b.Labels[i], batchTags(b, i))
			if err != nil {
				return 0, 0, fmt.Errorf("%s: %w", b.Videos[i], err)
			}
			dLogits := make([][]float32, len(logits))
			for j, l := range logits {
				loss, d := CrossEntropy(l, want[j])
				total += loss
				dLogits[j] = d
				if Argmax(l) == want[j] {
					correct++
				}
			}
			net.Backward(cache, dLogits, grads)
			terms += len(logits)
		}
		if terms == 0 {
			continue
		}
		count += terms
		if err := optim.Step(vars, grads, lr, terms); err != nil {
			return 0, 0, err
		}
	}
	if count == 0 {
		return 0, 0, errors.New("training loader produced no outputs")
	}
	return total / float64(count), float64(correct) / float64(count), nil
}

// evaluate scores the validation set. Whole-video mode averages the logits
// of all outputs of a video; temporal mode scores every output.
func evaluate(opts Options, cm *ConfusionMatrix) (float64, int, error) {
	net := opts.Network
	opts.Valid.Reset()
	var total float64
	count := 0
	for {
		b, err := opts.Valid.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, err
		}
		for i, in := range b.Inputs {
			logits, _ := net.ForwardTrain(in)
			if len(logits) == 0 {
				opts.Log.Warnf("Validation video %s is too short for the network", b.Videos[i])
				continue
			}
			if !opts.Temporal {
				mean := MeanRows(logits)
				loss, _ := CrossEntropy(mean, b.Labels[i])
				total += loss
				count++
				cm.Add(b.Labels[i], Argmax(mean))
				continue
			}
			want, err := targets(net, true, len(logits), b.Labels[i], batchTags(b, i))
			if err != nil {
				return 0, 0, fmt.Errorf("%s: %w", b.Videos[i], err)
			}
			for j, l := range logits {
				loss, _ := CrossEntropy(l, want[j])
				total += loss
				count++
				cm.Add(want[j], Argmax(l))
			}
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return total / float64(count), count, nil
}
