// Standard attribute keys. Using them consistently across packages keeps the
// stage's JSON logs filterable: every fit, artifact write, and tracking call
// carries the same vocabulary. Keys follow a hierarchical naming convention
// (e.g. "model.name", "data.samples", "train.epoch").
package log

// Model and operation context.
const (
	// ModelNameKey identifies the model or transformer type.
	// Examples: "Sequential", "OneHotEncoder", "StandardScaler"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "save", "load"
	OperationKey = "ml.operation"

	// ComponentKey identifies the package performing the operation.
	// Examples: "neural", "preprocessing", "tracking", "stage"
	ComponentKey = "ml.component"
)

// Data shape.
const (
	// SamplesKey is the number of samples (rows) being processed.
	SamplesKey = "data.samples"

	// FeaturesKey is the number of feature columns.
	FeaturesKey = "data.features"

	// ClassesKey is the number of target classes.
	ClassesKey = "data.classes"
)

// Training progress.
const (
	// EpochKey is the current training epoch (zero-based).
	EpochKey = "train.epoch"

	// EpochsKey is the configured number of epochs.
	EpochsKey = "train.epochs"

	// BatchSizeKey is the configured mini-batch size.
	BatchSizeKey = "train.batch_size"

	// LossKey and friends carry per-epoch history values.
	LossKey        = "metric.loss"
	AccuracyKey    = "metric.accuracy"
	ValLossKey     = "metric.val_loss"
	ValAccuracyKey = "metric.val_accuracy"

	// DurationMsKey is the wall-clock duration of an operation in milliseconds.
	DurationMsKey = "duration_ms"
)

// Experiment tracking context.
const (
	// ExperimentKey is the tracking experiment name or ID.
	ExperimentKey = "tracking.experiment"

	// RunIDKey is the tracking run ID the stage is logging under.
	RunIDKey = "tracking.run_id"

	// ParentRunIDKey is set when the stage runs nested under a parent run.
	ParentRunIDKey = "tracking.parent_run_id"

	// ArtifactKey is the local path of an artifact being saved or logged.
	ArtifactKey = "artifact.path"
)
