// Command train runs the model training stage of the pipeline.
//
// It reads hyperparameters from params.yaml, trains the classifier on
// data/processed/train_processed.csv, and writes the model, encoder,
// metrics, and training plot. When MLFLOW_TRACKING_URI is set the run is
// logged to the tracking server, nested under the active DVC experiment's
// parent run when DVC_EXP_NAME is present.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mlworks/tabtrain/config"
	"github.com/mlworks/tabtrain/pkg/log"
	"github.com/mlworks/tabtrain/stage"
)

const paramsPath = "params.yaml"

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()
	log.SetupLogger(os.Getenv("LOG_LEVEL"))

	if err := run(); err != nil {
		slog.Error("training stage failed", log.ErrAttr(err))
		os.Exit(1)
	}
	slog.Info("model training completed")
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params, err := config.LoadParams(paramsPath)
	if err != nil {
		return err
	}

	runner := stage.NewRunner(params, config.LoadEnv())
	if closer, ok := runner.Tracker.(io.Closer); ok {
		defer closer.Close()
	}
	return runner.Run(ctx)
}
