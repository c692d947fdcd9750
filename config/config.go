// Package config loads the training stage's hyperparameters, environment,
// and fixed pipeline paths.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mlworks/tabtrain/pkg/errors"
)

// Params holds the hyperparameter set for the train stage, decoded verbatim
// from the `train` key of params.yaml.
type Params struct {
	HiddenLayer1Neurons int     `yaml:"hidden_layer_1_neurons"`
	HiddenLayer2Neurons int     `yaml:"hidden_layer_2_neurons"`
	DropoutRate         float64 `yaml:"dropout_rate"`
	LearningRate        float64 `yaml:"learning_rate"`
	BatchSize           int     `yaml:"batch_size"`
	Epochs              int     `yaml:"epochs"`
	RandomSeed          int64   `yaml:"random_seed"`
}

// Validate checks hyperparameter ranges before any training work starts.
func (p Params) Validate() error {
	if p.HiddenLayer1Neurons <= 0 {
		return errors.NewValidationError("hidden_layer_1_neurons", "must be positive", p.HiddenLayer1Neurons)
	}
	if p.HiddenLayer2Neurons <= 0 {
		return errors.NewValidationError("hidden_layer_2_neurons", "must be positive", p.HiddenLayer2Neurons)
	}
	if p.DropoutRate < 0 || p.DropoutRate >= 1 {
		return errors.NewValidationError("dropout_rate", "must be in [0, 1)", p.DropoutRate)
	}
	if p.LearningRate <= 0 {
		return errors.NewValidationError("learning_rate", "must be positive", p.LearningRate)
	}
	if p.BatchSize <= 0 {
		return errors.NewValidationError("batch_size", "must be positive", p.BatchSize)
	}
	if p.Epochs <= 0 {
		return errors.NewValidationError("epochs", "must be positive", p.Epochs)
	}
	return nil
}

// Map returns the parameters as tracker-loggable key/value strings, using the
// same key names as params.yaml.
func (p Params) Map() map[string]string {
	return map[string]string{
		"hidden_layer_1_neurons": itoa(p.HiddenLayer1Neurons),
		"hidden_layer_2_neurons": itoa(p.HiddenLayer2Neurons),
		"dropout_rate":           ftoa(p.DropoutRate),
		"learning_rate":          ftoa(p.LearningRate),
		"batch_size":             itoa(p.BatchSize),
		"epochs":                 itoa(p.Epochs),
		"random_seed":            itoa64(p.RandomSeed),
	}
}

func itoa(v int) string     { return strconv.Itoa(v) }
func itoa64(v int64) string { return strconv.FormatInt(v, 10) }
func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// paramsFile mirrors the multi-stage layout of params.yaml; only the train
// stage is decoded here.
type paramsFile struct {
	Train *Params `yaml:"train"`
}

// LoadParams reads the train-stage hyperparameters from a params.yaml file.
func LoadParams(path string) (Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Params{}, errors.Wrapf(err, "config: failed to read %s", path)
	}

	var f paramsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Params{}, errors.Wrapf(err, "config: failed to parse %s", path)
	}
	if f.Train == nil {
		return Params{}, errors.NewValueError("config.LoadParams", "missing 'train' key in "+path)
	}
	if err := f.Train.Validate(); err != nil {
		return Params{}, err
	}
	return *f.Train, nil
}

// Env carries the environment variables that gate experiment tracking.
type Env struct {
	// DVCExpName is set by the experiment runner; when non-empty the
	// training run is nested under a shared parent run.
	DVCExpName string

	// MLflowExperimentID scopes the parent-run search when nesting.
	MLflowExperimentID string

	// TrackingURI is the tracking server base URL. Tracking is disabled
	// when empty.
	TrackingURI string
}

// LoadEnv reads the tracking-related environment variables.
func LoadEnv() Env {
	return Env{
		DVCExpName:         os.Getenv("DVC_EXP_NAME"),
		MLflowExperimentID: os.Getenv("MLFLOW_EXPERIMENT_ID"),
		TrackingURI:        os.Getenv("MLFLOW_TRACKING_URI"),
	}
}

// Paths fixes the stage's input and output locations relative to the
// pipeline working directory.
type Paths struct {
	TrainData   string
	ImputerPath string
	ScalerPath  string
	ModelPath   string
	EncoderPath string
	MetricsPath string
	PlotPath    string
}

// DefaultPaths returns the pipeline's conventional stage paths.
func DefaultPaths() Paths {
	return Paths{
		TrainData:   "data/processed/train_processed.csv",
		ImputerPath: "artifacts/[features]_mean_imputer.gob",
		ScalerPath:  "artifacts/[features]_scaler.gob",
		ModelPath:   "models/model.gob",
		EncoderPath: "artifacts/[target]_one_hot_encoder.gob",
		MetricsPath: "metrics/training.json",
		PlotPath:    "plots/training_history.png",
	}
}
