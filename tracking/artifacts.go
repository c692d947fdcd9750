package tracking

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mlworks/tabtrain/pkg/errors"
)

const artifactsScheme = "mlflow-artifacts:/"

// artifactRoot maps a run's artifact URI onto the server-side artifact
// repository path. Only proxied artifact storage (the mlflow-artifacts
// scheme) is supported: with other roots the server cannot accept uploads
// over HTTP.
func artifactRoot(artifactURI string) (string, error) {
	if !strings.HasPrefix(artifactURI, artifactsScheme) {
		return "", errors.Newf("tracking: unsupported artifact root %q, need %q", artifactURI, artifactsScheme)
	}
	return strings.TrimPrefix(artifactURI, artifactsScheme), nil
}

// LogArtifact uploads a local file to the run's artifact store, keeping
// the file's base name. artifactPath is an optional directory inside
// the store ("" for the root).
func (c *Client) LogArtifact(ctx context.Context, run *Run, localPath, artifactPath string) error {
	root, err := artifactRoot(run.ArtifactURI)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return errors.NewArtifactError("log", localPath, err)
	}

	remote := path.Join(root, artifactPath, filepath.Base(localPath))
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		SetError(&apiError{}).
		Put("/api/2.0/mlflow-artifacts/artifacts/" + remote)
	if err != nil {
		return errors.NewArtifactError("log", localPath, err)
	}
	return checkResponse(res, "log artifact")
}
