package training

import (
	"io"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/convforge/dialogue/models"
)

// DataSource is what a Learner needs from the model data container: the
// batch size and the three iterators. TestSet may return nil.
type DataSource interface {
	Size() int
	TrainSet() train.Dataset
	ValidationSet() train.Dataset
	TestSet() train.Dataset
}

// ModelFn builds the architecture graph for one batch.
type ModelFn func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node

// Learner coordinates a model, its data and its optimizer through the
// training loop. Loss is exported and mutable: variant adapters install
// their composite losses here before training starts.
type Learner struct {
	// Data is the container that created this learner.
	Data DataSource
	// Context holds the model variables.
	Context *context.Context
	// Model builds the prediction graph per batch.
	Model ModelFn
	// Loss scores predictions against labels. Mutable until Fit.
	Loss models.LossFunc
	// Optimizer builds the optimizer at Fit time.
	Optimizer OptimizerFactory

	logger *zap.Logger
}

// New wires a learner. optimizer may be nil for the default Adam
// configuration; logger may be nil.
func New(data DataSource, ctx *context.Context, model ModelFn, loss models.LossFunc, optimizer OptimizerFactory, logger *zap.Logger) *Learner {
	if optimizer == nil {
		optimizer = DefaultOptimizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{
		Data:      data,
		Context:   ctx,
		Model:     model,
		Loss:      loss,
		Optimizer: optimizer,
		logger:    logger,
	}
}

// Fit runs epochs full passes over the training iterator, then reports the
// validation loss. Batches are pulled one at a time; the iterators are
// reset between epochs.
func (l *Learner) Fit(backend backends.Backend, epochs int) error {
	if epochs <= 0 {
		return errors.Errorf("learner: epochs %d must be positive", epochs)
	}
	trainer := train.NewTrainer(backend, l.Context,
		train.ModelFn(l.Model), losses.LossFn(l.Loss),
		l.Optimizer(), nil, nil)

	ds := l.Data.TrainSet()
	for epoch := 0; epoch < epochs; epoch++ {
		var lossSum float64
		var steps int
		for {
			spec, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				return errors.Wrap(err, "train yield")
			}
			lossSum += scalarMetric(trainer.TrainStep(spec, inputs, labels))
			steps++
		}
		ds.Reset()
		l.logger.Info("epoch finished",
			zap.Int("epoch", epoch),
			zap.Int("steps", steps),
			zap.Float64("train_loss", safeMean(lossSum, steps)))
	}

	if val := l.Data.ValidationSet(); val != nil {
		loss, err := l.evaluate(trainer, val)
		if err != nil {
			return err
		}
		l.logger.Info("validation", zap.Float64("loss", loss))
	}
	return nil
}

// evaluate runs one pass without updates and returns the mean loss.
func (l *Learner) evaluate(trainer *train.Trainer, ds train.Dataset) (float64, error) {
	var lossSum float64
	var steps int
	for {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.Wrap(err, "eval yield")
		}
		lossSum += scalarMetric(trainer.EvalStep(spec, inputs, labels))
		steps++
	}
	ds.Reset()
	return safeMean(lossSum, steps), nil
}

// scalarMetric extracts the loss (first metric) as a float64.
func scalarMetric(metrics []*tensors.Tensor) float64 {
	if len(metrics) == 0 {
		return 0
	}
	return float64(tensors.ToScalar[float32](metrics[0]))
}

func safeMean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
