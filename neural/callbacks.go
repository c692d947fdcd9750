package neural

import (
	"log/slog"

	"github.com/mlworks/tabtrain/pkg/errors"
	plog "github.com/mlworks/tabtrain/pkg/log"
)

// CallbackEnv is the environment passed to callbacks after each epoch.
type CallbackEnv struct {
	Epoch        int
	Epochs       int
	Metrics      map[string]float64
	Model        *Sequential
	StopTraining bool
}

// Callback is invoked after every training epoch. Setting env.StopTraining
// ends training after the current epoch.
type Callback func(env *CallbackEnv) error

// metricMinimized reports whether lower values of the metric are better.
func metricMinimized(metric string) bool {
	switch metric {
	case "accuracy", "val_accuracy":
		return false
	}
	return true
}

// EarlyStopping stops training when the monitored metric has not improved for
// patience epochs. With restoreBest the model weights are rolled back to the
// best epoch when the stop triggers.
func EarlyStopping(monitor string, patience int, restoreBest bool) Callback {
	minimize := metricMinimized(monitor)
	var (
		initialized bool
		bestScore   float64
		bestEpoch   int
		bestWeights [][]float64
		wait        int
	)

	return func(env *CallbackEnv) error {
		value, ok := env.Metrics[monitor]
		if !ok {
			return errors.NewValueError("EarlyStopping",
				"monitored metric "+monitor+" not found in epoch metrics")
		}

		improved := !initialized
		if initialized {
			if minimize {
				improved = value < bestScore
			} else {
				improved = value > bestScore
			}
		}
		initialized = true

		if improved {
			bestScore = value
			bestEpoch = env.Epoch
			wait = 0
			if restoreBest {
				bestWeights = env.Model.snapshotWeights()
			}
			return nil
		}

		wait++
		if wait >= patience {
			env.StopTraining = true
			if restoreBest && bestWeights != nil {
				env.Model.restoreWeights(bestWeights)
			}
			slog.Info("early stopping triggered",
				plog.EpochKey, env.Epoch,
				"best_epoch", bestEpoch,
				"monitor", monitor,
				"best_score", bestScore,
			)
		}
		return nil
	}
}

// LogEpochs emits one structured log line per epoch with the epoch metrics.
func LogEpochs() Callback {
	return func(env *CallbackEnv) error {
		attrs := []any{
			plog.ComponentKey, "neural",
			plog.EpochKey, env.Epoch,
			plog.EpochsKey, env.Epochs,
		}
		for _, key := range []string{"loss", "accuracy", "val_loss", "val_accuracy"} {
			if v, ok := env.Metrics[key]; ok {
				attrs = append(attrs, "metric."+key, v)
			}
		}
		slog.Info("epoch finished", attrs...)
		return nil
	}
}

// RecordHistory appends every epoch metric to an external history map,
// for callers that track series outside the returned History.
func RecordHistory(history map[string][]float64) Callback {
	return func(env *CallbackEnv) error {
		for name, value := range env.Metrics {
			history[name] = append(history[name], value)
		}
		return nil
	}
}
