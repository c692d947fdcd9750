// Package stage orchestrates the train stage of the pipeline: it loads the
// processed training table, fits the classifier under an experiment tracking
// run, and writes the model, encoder, metrics, and training plot.
package stage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/config"
	"github.com/mlworks/tabtrain/core/model"
	"github.com/mlworks/tabtrain/dataset"
	"github.com/mlworks/tabtrain/neural"
	"github.com/mlworks/tabtrain/pkg/errors"
	plog "github.com/mlworks/tabtrain/pkg/log"
	"github.com/mlworks/tabtrain/preprocessing"
	"github.com/mlworks/tabtrain/tracking"
)

// ExperimentName is the tracking experiment all training runs belong to.
const ExperimentName = "ml_classification"

// TargetColumn is the label column in the processed training table.
const TargetColumn = "target"

// Training hyperparameters fixed by the stage rather than params.yaml.
const (
	validationSplit       = 0.2
	earlyStoppingMonitor  = "val_loss"
	earlyStoppingPatience = 10
)

// dvcExpTag marks the parent run shared by all stages of one DVC experiment.
const dvcExpTag = "dvc_exp"

// Tracker is the slice of the tracking client the stage uses. It exists so
// tests can substitute a fake; *tracking.Client satisfies it.
type Tracker interface {
	GetOrCreateExperiment(ctx context.Context, name string) (string, error)
	CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*tracking.Run, error)
	EndRun(ctx context.Context, runID, status string) error
	SetTag(ctx context.Context, runID, key, value string) error
	LogParams(ctx context.Context, runID string, params map[string]string) error
	LogMetrics(ctx context.Context, runID string, values map[string]float64, step int64) error
	SearchRuns(ctx context.Context, experimentIDs []string, filter string, orderBy []string, maxResults int) ([]*tracking.Run, error)
	LogArtifact(ctx context.Context, run *tracking.Run, localPath, artifactPath string) error
}

// Runner executes the train stage once.
type Runner struct {
	Params config.Params
	Env    config.Env
	Paths  config.Paths

	// Tracker is nil when no tracking server is configured; the stage then
	// trains and writes its outputs without logging runs.
	Tracker Tracker
}

// NewRunner builds a Runner from loaded configuration, connecting to the
// tracking server when the environment names one.
func NewRunner(params config.Params, env config.Env) *Runner {
	r := &Runner{
		Params: params,
		Env:    env,
		Paths:  config.DefaultPaths(),
	}
	if env.TrackingURI != "" {
		r.Tracker = tracking.NewClient(env.TrackingURI)
	}
	return r
}

// Run trains the model end to end. The tracking run is marked FAILED when
// any step after its creation errors.
func (r *Runner) Run(ctx context.Context) (err error) {
	started := time.Now()
	logger := slog.Default().With(slog.String(plog.ComponentKey, "stage"))

	logger.Info("loading training data", slog.String(plog.ArtifactKey, r.Paths.TrainData))
	table, err := dataset.LoadCSV(r.Paths.TrainData, TargetColumn)
	if err != nil {
		return err
	}

	encoder := preprocessing.NewOneHotEncoder()
	yTrain, err := encoder.FitTransform(table.Labels)
	if err != nil {
		return err
	}
	logger.Info("prepared training data",
		slog.Int(plog.SamplesKey, table.NumSamples()),
		slog.Int(plog.FeaturesKey, table.NumFeatures()),
		slog.Int(plog.ClassesKey, encoder.NumCategories()))

	net, err := r.buildModel(table.NumFeatures(), encoder.NumCategories())
	if err != nil {
		return err
	}

	run, err := r.startRun(ctx, logger)
	if err != nil {
		return err
	}
	if run != nil {
		defer func() {
			status := tracking.RunStatusFinished
			if err != nil {
				status = tracking.RunStatusFailed
			}
			if endErr := r.Tracker.EndRun(ctx, run.ID, status); endErr != nil {
				logger.Warn("failed to end tracking run",
					slog.String(plog.RunIDKey, run.ID), plog.ErrAttr(endErr))
			}
		}()

		if err := r.Tracker.LogParams(ctx, run.ID, r.Params.Map()); err != nil {
			return err
		}
		if err := r.logPreprocessingArtifacts(ctx, run, logger); err != nil {
			return err
		}
	}

	history, err := r.fit(ctx, net, table, yTrain, run)
	if err != nil {
		return err
	}

	if err := r.saveArtifacts(ctx, net, encoder, run, logger); err != nil {
		return err
	}
	if err := r.writeMetrics(history, logger); err != nil {
		return err
	}
	if err := r.writePlot(ctx, history, run, logger); err != nil {
		return err
	}

	logger.Info("training stage finished",
		slog.Int64(plog.DurationMsKey, time.Since(started).Milliseconds()))
	return nil
}

// buildModel assembles the two-hidden-layer classifier from the
// hyperparameters.
func (r *Runner) buildModel(numFeatures, numClasses int) (*neural.Sequential, error) {
	net := neural.NewSequential(
		neural.NewDense(numFeatures, r.Params.HiddenLayer1Neurons, neural.ActivationReLU),
		neural.NewDropout(r.Params.DropoutRate),
		neural.NewDense(r.Params.HiddenLayer1Neurons, r.Params.HiddenLayer2Neurons, neural.ActivationReLU),
		neural.NewDropout(r.Params.DropoutRate),
		neural.NewDense(r.Params.HiddenLayer2Neurons, numClasses, neural.ActivationSoftmax),
	)
	err := net.Compile(neural.NewAdam(r.Params.LearningRate),
		neural.LossCategoricalCrossentropy, neural.MetricAccuracy)
	if err != nil {
		return nil, err
	}
	return net, nil
}

// startRun opens the tracking run for this training, nesting it under the
// DVC experiment's parent run when one is active. Returns nil when tracking
// is disabled.
func (r *Runner) startRun(ctx context.Context, logger *slog.Logger) (*tracking.Run, error) {
	if r.Tracker == nil {
		return nil, nil
	}

	experimentID, err := r.Tracker.GetOrCreateExperiment(ctx, ExperimentName)
	if err != nil {
		return nil, err
	}

	runName := ""
	tags := map[string]string{}
	if r.Env.DVCExpName != "" {
		parentID, err := r.findOrCreateParentRun(ctx, experimentID)
		if err != nil {
			return nil, err
		}
		runName = r.Env.DVCExpName
		tags[tracking.TagParentRunID] = parentID
		logger.Info("nesting under DVC experiment run",
			slog.String(plog.ParentRunIDKey, parentID),
			slog.String("dvc_exp_name", runName))
	}

	run, err := r.Tracker.CreateRun(ctx, experimentID, runName, tags)
	if err != nil {
		return nil, err
	}
	logger.Info("started tracking run",
		slog.String(plog.ExperimentKey, ExperimentName),
		slog.String(plog.RunIDKey, run.ID))
	return run, nil
}

// findOrCreateParentRun locates the run every stage of the current DVC
// experiment nests under, creating and tagging it when this stage is the
// first to look.
func (r *Runner) findOrCreateParentRun(ctx context.Context, experimentID string) (string, error) {
	searchID := r.Env.MLflowExperimentID
	if searchID == "" {
		searchID = experimentID
	}

	runs, err := r.Tracker.SearchRuns(ctx, []string{searchID},
		"tags."+dvcExpTag+" = 'True'", []string{"attributes.start_time DESC"}, 1)
	if err != nil {
		return "", err
	}
	if len(runs) > 0 {
		return runs[0].ID, nil
	}

	parent, err := r.Tracker.CreateRun(ctx, experimentID, "", nil)
	if err != nil {
		return "", err
	}
	if err := r.Tracker.SetTag(ctx, parent.ID, dvcExpTag, "True"); err != nil {
		return "", err
	}
	if err := r.Tracker.EndRun(ctx, parent.ID, tracking.RunStatusFinished); err != nil {
		return "", err
	}
	return parent.ID, nil
}

// logPreprocessingArtifacts verifies the upstream imputer and scaler decode
// cleanly, then attaches them to the run so the model's inputs are
// reproducible from the tracking server alone.
func (r *Runner) logPreprocessingArtifacts(ctx context.Context, run *tracking.Run, logger *slog.Logger) error {
	var imputer preprocessing.MeanImputer
	if err := model.LoadModel(&imputer, r.Paths.ImputerPath); err != nil {
		return errors.NewArtifactError("load", r.Paths.ImputerPath, err)
	}
	var scaler preprocessing.StandardScaler
	if err := model.LoadModel(&scaler, r.Paths.ScalerPath); err != nil {
		return errors.NewArtifactError("load", r.Paths.ScalerPath, err)
	}

	for _, path := range []string{r.Paths.ImputerPath, r.Paths.ScalerPath} {
		if err := r.Tracker.LogArtifact(ctx, run, path, ""); err != nil {
			return err
		}
		logger.Info("logged preprocessing artifact", slog.String(plog.ArtifactKey, path))
	}
	return nil
}

// fit trains the network with the stage's fixed early stopping policy,
// streaming per-epoch metrics to the tracking run when one is open.
func (r *Runner) fit(ctx context.Context, net *neural.Sequential, table *dataset.Table, yTrain *mat.Dense, run *tracking.Run) (*neural.History, error) {
	callbacks := []neural.Callback{
		neural.EarlyStopping(earlyStoppingMonitor, earlyStoppingPatience, true),
		neural.LogEpochs(),
	}
	if run != nil {
		callbacks = append(callbacks, r.trackEpochs(ctx, run))
	}

	return net.Fit(table.Features, yTrain, neural.FitConfig{
		Epochs:          r.Params.Epochs,
		BatchSize:       r.Params.BatchSize,
		ValidationSplit: validationSplit,
		Shuffle:         true,
		Seed:            r.Params.RandomSeed,
		Callbacks:       callbacks,
	})
}

// trackEpochs mirrors each epoch's metrics to the tracking run.
func (r *Runner) trackEpochs(ctx context.Context, run *tracking.Run) neural.Callback {
	return func(env *neural.CallbackEnv) error {
		return r.Tracker.LogMetrics(ctx, run.ID, env.Metrics, int64(env.Epoch))
	}
}

// saveArtifacts writes the trained model and label encoder to disk and logs
// them to the run.
func (r *Runner) saveArtifacts(ctx context.Context, net *neural.Sequential, encoder *preprocessing.OneHotEncoder, run *tracking.Run, logger *slog.Logger) error {
	if err := net.Save(r.Paths.ModelPath); err != nil {
		return err
	}
	logger.Info("saved model", slog.String(plog.ArtifactKey, r.Paths.ModelPath))

	if err := model.SaveModel(encoder, r.Paths.EncoderPath); err != nil {
		return errors.NewArtifactError("save", r.Paths.EncoderPath, err)
	}
	logger.Info("saved encoder", slog.String(plog.ArtifactKey, r.Paths.EncoderPath))

	if run != nil {
		if err := r.Tracker.LogArtifact(ctx, run, r.Paths.ModelPath, ""); err != nil {
			return err
		}
		if err := r.Tracker.LogArtifact(ctx, run, r.Paths.EncoderPath, ""); err != nil {
			return err
		}
	}
	return nil
}

// writeMetrics writes the final epoch of every history series as the stage's
// metrics file.
func (r *Runner) writeMetrics(history *neural.History, logger *slog.Logger) error {
	final := history.Final()
	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return errors.Wrap(err, "stage: failed to encode metrics")
	}

	if err := os.MkdirAll(filepath.Dir(r.Paths.MetricsPath), 0o755); err != nil {
		return errors.NewArtifactError("save", r.Paths.MetricsPath, err)
	}
	if err := os.WriteFile(r.Paths.MetricsPath, data, 0o644); err != nil {
		return errors.NewArtifactError("save", r.Paths.MetricsPath, err)
	}
	logger.Info("wrote training metrics", slog.String(plog.ArtifactKey, r.Paths.MetricsPath))
	return nil
}

// writePlot renders the training history curves and logs the image to the
// run.
func (r *Runner) writePlot(ctx context.Context, history *neural.History, run *tracking.Run, logger *slog.Logger) error {
	if err := renderHistory(history, r.Paths.PlotPath); err != nil {
		return err
	}
	logger.Info("wrote training plot", slog.String(plog.ArtifactKey, r.Paths.PlotPath))

	if run != nil {
		if err := r.Tracker.LogArtifact(ctx, run, r.Paths.PlotPath, ""); err != nil {
			return err
		}
	}
	return nil
}
