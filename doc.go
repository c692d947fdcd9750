// Package tabtrain implements the model training stage of a tabular
// classification pipeline.
//
// The stage reads a processed feature table, one-hot encodes its target
// column, trains a dense feed-forward classifier with early stopping, and
// writes the trained model, the label encoder, final training metrics, and a
// training-history plot. Runs are logged to an MLflow-compatible tracking
// server when one is configured, nested under the active DVC experiment's
// parent run.
//
// # Layout
//
//   - cmd/train: the stage entrypoint
//   - stage: orchestration of one training run
//   - neural: the Sequential network, layers, Adam, and training callbacks
//   - preprocessing: OneHotEncoder, StandardScaler, MeanImputer
//   - dataset: CSV feature-table loading
//   - metrics: classification metrics
//   - tracking: the MLflow REST client
//   - config: params.yaml, environment, and pipeline paths
//
// All models and transformers persist with encoding/gob through core/model.
package tabtrain
