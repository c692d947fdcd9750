package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/config"
	"github.com/mlworks/tabtrain/core/model"
	"github.com/mlworks/tabtrain/neural"
	"github.com/mlworks/tabtrain/preprocessing"
	"github.com/mlworks/tabtrain/tracking"
)

// fakeTracker records every tracking call the stage makes.
type fakeTracker struct {
	nextRun      int
	experiments  []string
	createdRuns  []*tracking.Run
	runNames     map[string]string
	runTags      map[string]map[string]string
	params       map[string]map[string]string
	metricCalls  map[string]int
	artifacts    map[string][]string
	ended        map[string]string
	searchResult []*tracking.Run
	searchFilter string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		runNames:    make(map[string]string),
		runTags:     make(map[string]map[string]string),
		params:      make(map[string]map[string]string),
		metricCalls: make(map[string]int),
		artifacts:   make(map[string][]string),
		ended:       make(map[string]string),
	}
}

func (f *fakeTracker) GetOrCreateExperiment(_ context.Context, name string) (string, error) {
	f.experiments = append(f.experiments, name)
	return "exp-1", nil
}

func (f *fakeTracker) CreateRun(_ context.Context, experimentID, runName string, tags map[string]string) (*tracking.Run, error) {
	f.nextRun++
	id := fmt.Sprintf("run-%d", f.nextRun)
	run := &tracking.Run{
		ID:           id,
		ExperimentID: experimentID,
		ArtifactURI:  "mlflow-artifacts:/" + experimentID + "/" + id + "/artifacts",
		Tags:         tags,
	}
	f.createdRuns = append(f.createdRuns, run)
	f.runNames[id] = runName
	f.runTags[id] = tags
	return run, nil
}

func (f *fakeTracker) EndRun(_ context.Context, runID, status string) error {
	f.ended[runID] = status
	return nil
}

func (f *fakeTracker) SetTag(_ context.Context, runID, key, value string) error {
	if f.runTags[runID] == nil {
		f.runTags[runID] = make(map[string]string)
	}
	f.runTags[runID][key] = value
	return nil
}

func (f *fakeTracker) LogParams(_ context.Context, runID string, params map[string]string) error {
	f.params[runID] = params
	return nil
}

func (f *fakeTracker) LogMetrics(_ context.Context, runID string, _ map[string]float64, _ int64) error {
	f.metricCalls[runID]++
	return nil
}

func (f *fakeTracker) SearchRuns(_ context.Context, _ []string, filter string, _ []string, _ int) ([]*tracking.Run, error) {
	f.searchFilter = filter
	return f.searchResult, nil
}

func (f *fakeTracker) LogArtifact(_ context.Context, run *tracking.Run, localPath, _ string) error {
	f.artifacts[run.ID] = append(f.artifacts[run.ID], filepath.Base(localPath))
	return nil
}

func testPaths(dir string) config.Paths {
	return config.Paths{
		TrainData:   filepath.Join(dir, "data", "processed", "train_processed.csv"),
		ImputerPath: filepath.Join(dir, "artifacts", "[features]_mean_imputer.gob"),
		ScalerPath:  filepath.Join(dir, "artifacts", "[features]_scaler.gob"),
		ModelPath:   filepath.Join(dir, "models", "model.gob"),
		EncoderPath: filepath.Join(dir, "artifacts", "[target]_one_hot_encoder.gob"),
		MetricsPath: filepath.Join(dir, "metrics", "training.json"),
		PlotPath:    filepath.Join(dir, "plots", "training_history.png"),
	}
}

func testParams() config.Params {
	return config.Params{
		HiddenLayer1Neurons: 8,
		HiddenLayer2Neurons: 4,
		DropoutRate:         0.1,
		LearningRate:        0.05,
		BatchSize:           4,
		Epochs:              5,
		RandomSeed:          42,
	}
}

// writeTrainData writes a small, cleanly separable two-class table.
func writeTrainData(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	b.WriteString("x1,x2,target\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&b, "%.2f,%.2f,a\n", 0.1*float64(i), 0.05*float64(i))
		fmt.Fprintf(&b, "%.2f,%.2f,b\n", 3.0+0.1*float64(i), 3.0+0.05*float64(i))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeUpstreamArtifacts saves a fitted imputer and scaler the way the
// preceding pipeline stage would.
func writeUpstreamArtifacts(t *testing.T, paths config.Paths) {
	t.Helper()
	X := mat.NewDense(4, 2, []float64{
		0, 1,
		1, 2,
		2, 3,
		3, 4,
	})

	imputer := preprocessing.NewMeanImputer()
	if err := imputer.Fit(X); err != nil {
		t.Fatal(err)
	}
	if err := model.SaveModel(imputer, paths.ImputerPath); err != nil {
		t.Fatal(err)
	}

	scaler := preprocessing.NewStandardScaler()
	if err := scaler.Fit(X); err != nil {
		t.Fatal(err)
	}
	if err := model.SaveModel(scaler, paths.ScalerPath); err != nil {
		t.Fatal(err)
	}
}

func newTestRunner(t *testing.T, tracker Tracker, env config.Env) *Runner {
	t.Helper()
	dir := t.TempDir()
	paths := testPaths(dir)
	writeTrainData(t, paths.TrainData)
	writeUpstreamArtifacts(t, paths)
	return &Runner{
		Params:  testParams(),
		Env:     env,
		Paths:   paths,
		Tracker: tracker,
	}
}

func TestRun_WithoutTracking(t *testing.T) {
	r := newTestRunner(t, nil, config.Env{})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	net, err := neural.LoadSequential(r.Paths.ModelPath)
	if err != nil {
		t.Fatalf("load saved model: %v", err)
	}
	if !net.IsFitted() {
		t.Error("saved model is not fitted")
	}

	var encoder preprocessing.OneHotEncoder
	if err := model.LoadModel(&encoder, r.Paths.EncoderPath); err != nil {
		t.Fatalf("load saved encoder: %v", err)
	}
	if encoder.NumCategories() != 2 {
		t.Errorf("encoder categories = %d, want 2", encoder.NumCategories())
	}

	raw, err := os.ReadFile(r.Paths.MetricsPath)
	if err != nil {
		t.Fatalf("read metrics file: %v", err)
	}
	var metrics map[string]float64
	if err := json.Unmarshal(raw, &metrics); err != nil {
		t.Fatalf("parse metrics file: %v", err)
	}
	for _, key := range []string{"loss", "accuracy", "val_loss", "val_accuracy"} {
		if _, ok := metrics[key]; !ok {
			t.Errorf("metrics file missing %q: %v", key, metrics)
		}
	}

	if _, err := os.Stat(r.Paths.PlotPath); err != nil {
		t.Errorf("plot file: %v", err)
	}
}

func TestRun_WithTracking(t *testing.T) {
	ft := newFakeTracker()
	r := newTestRunner(t, ft, config.Env{})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ft.experiments) != 1 || ft.experiments[0] != ExperimentName {
		t.Errorf("experiments = %v", ft.experiments)
	}
	if len(ft.createdRuns) != 1 {
		t.Fatalf("created runs = %d, want 1", len(ft.createdRuns))
	}
	runID := ft.createdRuns[0].ID

	params := ft.params[runID]
	if params["epochs"] != "5" || params["random_seed"] != "42" {
		t.Errorf("logged params = %v", params)
	}
	if len(params) != 7 {
		t.Errorf("logged %d params, want 7: %v", len(params), params)
	}

	wantArtifacts := []string{
		"[features]_mean_imputer.gob",
		"[features]_scaler.gob",
		"model.gob",
		"[target]_one_hot_encoder.gob",
		"training_history.png",
	}
	got := ft.artifacts[runID]
	if len(got) != len(wantArtifacts) {
		t.Fatalf("logged artifacts = %v, want %v", got, wantArtifacts)
	}
	for i, want := range wantArtifacts {
		if got[i] != want {
			t.Errorf("artifact[%d] = %q, want %q", i, got[i], want)
		}
	}

	if ft.metricCalls[runID] == 0 {
		t.Error("no per-epoch metrics logged")
	}
	if ft.ended[runID] != tracking.RunStatusFinished {
		t.Errorf("run status = %q, want FINISHED", ft.ended[runID])
	}
}

func TestRun_NestsUnderExistingParent(t *testing.T) {
	ft := newFakeTracker()
	ft.searchResult = []*tracking.Run{{ID: "parent-1"}}
	env := config.Env{DVCExpName: "exp-banana", MLflowExperimentID: "exp-1"}
	r := newTestRunner(t, ft, env)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if ft.searchFilter != "tags.dvc_exp = 'True'" {
		t.Errorf("search filter = %q", ft.searchFilter)
	}
	if len(ft.createdRuns) != 1 {
		t.Fatalf("created runs = %d, want 1 (parent already exists)", len(ft.createdRuns))
	}
	child := ft.createdRuns[0]
	if ft.runTags[child.ID][tracking.TagParentRunID] != "parent-1" {
		t.Errorf("child tags = %v", ft.runTags[child.ID])
	}
	if ft.runNames[child.ID] != "exp-banana" {
		t.Errorf("child run name = %q", ft.runNames[child.ID])
	}
}

func TestRun_CreatesParentWhenMissing(t *testing.T) {
	ft := newFakeTracker()
	env := config.Env{DVCExpName: "exp-banana"}
	r := newTestRunner(t, ft, env)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ft.createdRuns) != 2 {
		t.Fatalf("created runs = %d, want parent + child", len(ft.createdRuns))
	}
	parent, child := ft.createdRuns[0], ft.createdRuns[1]
	if ft.runTags[parent.ID]["dvc_exp"] != "True" {
		t.Errorf("parent tags = %v", ft.runTags[parent.ID])
	}
	if ft.ended[parent.ID] != tracking.RunStatusFinished {
		t.Errorf("parent status = %q", ft.ended[parent.ID])
	}
	if ft.runTags[child.ID][tracking.TagParentRunID] != parent.ID {
		t.Errorf("child parent tag = %q, want %q",
			ft.runTags[child.ID][tracking.TagParentRunID], parent.ID)
	}
}

func TestRun_MarksRunFailed(t *testing.T) {
	ft := newFakeTracker()
	r := newTestRunner(t, ft, config.Env{})
	// Remove an upstream artifact so the stage fails after the run starts.
	if err := os.Remove(r.Paths.ImputerPath); err != nil {
		t.Fatal(err)
	}

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing upstream artifact")
	}

	if len(ft.createdRuns) != 1 {
		t.Fatalf("created runs = %d, want 1", len(ft.createdRuns))
	}
	runID := ft.createdRuns[0].ID
	if ft.ended[runID] != tracking.RunStatusFailed {
		t.Errorf("run status = %q, want FAILED", ft.ended[runID])
	}
}

func TestRun_MissingTrainData(t *testing.T) {
	r := &Runner{
		Params: testParams(),
		Paths:  testPaths(t.TempDir()),
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing training data")
	}
}

func TestNewRunner_TrackingGatedByEnv(t *testing.T) {
	r := NewRunner(testParams(), config.Env{})
	if r.Tracker != nil {
		t.Error("tracker should be nil without MLFLOW_TRACKING_URI")
	}

	r = NewRunner(testParams(), config.Env{TrackingURI: "http://localhost:5000"})
	if r.Tracker == nil {
		t.Error("tracker should be set when MLFLOW_TRACKING_URI is present")
	}
}
