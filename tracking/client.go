// Package tracking is a minimal MLflow-compatible experiment tracking client.
//
// It covers the slice of the MLflow REST API (api/2.0/mlflow) the training
// stage needs: experiment resolution, run lifecycle, parameter/metric
// logging, tags, run search for DVC parent-run nesting, and artifact upload
// for servers that proxy artifacts (mlflow-artifacts scheme).
package tracking

import (
	"context"
	"time"

	"resty.dev/v3"

	"github.com/mlworks/tabtrain/pkg/errors"
)

// Run statuses understood by the tracking server.
const (
	RunStatusRunning  = "RUNNING"
	RunStatusFinished = "FINISHED"
	RunStatusFailed   = "FAILED"
)

// Reserved tag keys with tracker-side meaning.
const (
	TagParentRunID = "mlflow.parentRunId"
	TagRunName     = "mlflow.runName"
)

// Run identifies a tracking run and where its artifacts live.
type Run struct {
	ID           string
	ExperimentID string
	ArtifactURI  string
	Tags         map[string]string
}

// Client talks to one tracking server.
type Client struct {
	http *resty.Client
}

// NewClient creates a tracking client for the given server base URL,
// e.g. "http://localhost:5000".
func NewClient(trackingURI string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(trackingURI).
			SetTimeout(30 * time.Second),
	}
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.http.Close()
}

type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type runInfo struct {
	RunID        string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	ArtifactURI  string `json:"artifact_uri"`
	Status       string `json:"status"`
	StartTime    int64  `json:"start_time"`
}

type runData struct {
	Tags []keyValue `json:"tags"`
}

type apiRun struct {
	Info runInfo `json:"info"`
	Data runData `json:"data"`
}

func (r apiRun) toRun() *Run {
	tags := make(map[string]string, len(r.Data.Tags))
	for _, kv := range r.Data.Tags {
		tags[kv.Key] = kv.Value
	}
	return &Run{
		ID:           r.Info.RunID,
		ExperimentID: r.Info.ExperimentID,
		ArtifactURI:  r.Info.ArtifactURI,
		Tags:         tags,
	}
}

// checkResponse converts a non-2xx tracker reply into an error.
func checkResponse(res *resty.Response, op string) error {
	if res.IsError() {
		apiErr, ok := res.Error().(*apiError)
		if ok && apiErr.Message != "" {
			return errors.Newf("tracking: %s: %s (%s)", op, apiErr.Message, apiErr.ErrorCode)
		}
		return errors.Newf("tracking: %s: server returned %d", op, res.StatusCode())
	}
	return nil
}

// GetOrCreateExperiment resolves an experiment name to its ID, creating the
// experiment when it does not exist yet.
func (c *Client) GetOrCreateExperiment(ctx context.Context, name string) (string, error) {
	var got struct {
		Experiment struct {
			ExperimentID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("experiment_name", name).
		SetResult(&got).
		SetError(&apiError{}).
		Get("/api/2.0/mlflow/experiments/get-by-name")
	if err != nil {
		return "", errors.Wrap(err, "tracking: get experiment by name")
	}
	if res.IsSuccess() {
		return got.Experiment.ExperimentID, nil
	}
	if res.StatusCode() != 404 {
		return "", checkResponse(res, "get experiment by name")
	}

	var created struct {
		ExperimentID string `json:"experiment_id"`
	}
	res, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"name": name}).
		SetResult(&created).
		SetError(&apiError{}).
		Post("/api/2.0/mlflow/experiments/create")
	if err != nil {
		return "", errors.Wrap(err, "tracking: create experiment")
	}
	if err := checkResponse(res, "create experiment"); err != nil {
		return "", err
	}
	return created.ExperimentID, nil
}

// CreateRun starts a new run in the experiment. The tags map may carry
// reserved keys such as TagParentRunID for nested runs.
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*Run, error) {
	reqTags := make([]keyValue, 0, len(tags)+1)
	for k, v := range tags {
		reqTags = append(reqTags, keyValue{Key: k, Value: v})
	}
	if runName != "" {
		reqTags = append(reqTags, keyValue{Key: TagRunName, Value: runName})
	}

	var got struct {
		Run apiRun `json:"run"`
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"experiment_id": experimentID,
			"run_name":      runName,
			"start_time":    time.Now().UnixMilli(),
			"tags":          reqTags,
		}).
		SetResult(&got).
		SetError(&apiError{}).
		Post("/api/2.0/mlflow/runs/create")
	if err != nil {
		return nil, errors.Wrap(err, "tracking: create run")
	}
	if err := checkResponse(res, "create run"); err != nil {
		return nil, err
	}
	return got.Run.toRun(), nil
}

// EndRun terminates a run with the given status.
func (c *Client) EndRun(ctx context.Context, runID, status string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"run_id":   runID,
			"status":   status,
			"end_time": time.Now().UnixMilli(),
		}).
		SetError(&apiError{}).
		Post("/api/2.0/mlflow/runs/update")
	if err != nil {
		return errors.Wrap(err, "tracking: update run")
	}
	return checkResponse(res, "update run")
}

// SetTag sets a tag on a run.
func (c *Client) SetTag(ctx context.Context, runID, key, value string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"run_id": runID,
			"key":    key,
			"value":  value,
		}).
		SetError(&apiError{}).
		Post("/api/2.0/mlflow/runs/set-tag")
	if err != nil {
		return errors.Wrap(err, "tracking: set tag")
	}
	return checkResponse(res, "set tag")
}

// LogParams logs a parameter map on a run in a single batch call.
func (c *Client) LogParams(ctx context.Context, runID string, params map[string]string) error {
	kvs := make([]keyValue, 0, len(params))
	for k, v := range params {
		kvs = append(kvs, keyValue{Key: k, Value: v})
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"run_id": runID,
			"params": kvs,
		}).
		SetError(&apiError{}).
		Post("/api/2.0/mlflow/runs/log-batch")
	if err != nil {
		return errors.Wrap(err, "tracking: log params")
	}
	return checkResponse(res, "log params")
}

type metricEntry struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// LogMetrics logs a metric map on a run at the given step.
func (c *Client) LogMetrics(ctx context.Context, runID string, values map[string]float64, step int64) error {
	now := time.Now().UnixMilli()
	entries := make([]metricEntry, 0, len(values))
	for k, v := range values {
		entries = append(entries, metricEntry{Key: k, Value: v, Timestamp: now, Step: step})
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"run_id":  runID,
			"metrics": entries,
		}).
		SetError(&apiError{}).
		Post("/api/2.0/mlflow/runs/log-batch")
	if err != nil {
		return errors.Wrap(err, "tracking: log metrics")
	}
	return checkResponse(res, "log metrics")
}

// SearchRuns returns the runs of the given experiments matching the filter
// string, in the requested order.
func (c *Client) SearchRuns(ctx context.Context, experimentIDs []string, filter string, orderBy []string, maxResults int) ([]*Run, error) {
	var got struct {
		Runs []apiRun `json:"runs"`
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"experiment_ids": experimentIDs,
			"filter":         filter,
			"order_by":       orderBy,
			"max_results":    maxResults,
		}).
		SetResult(&got).
		SetError(&apiError{}).
		Post("/api/2.0/mlflow/runs/search")
	if err != nil {
		return nil, errors.Wrap(err, "tracking: search runs")
	}
	if err := checkResponse(res, "search runs"); err != nil {
		return nil, err
	}

	runs := make([]*Run, len(got.Runs))
	for i, r := range got.Runs {
		runs[i] = r.toRun()
	}
	return runs, nil
}
