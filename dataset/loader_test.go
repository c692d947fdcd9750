package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train_processed.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, "f1,f2,target\n1.5,2.0,a\n-0.5,3.25,b\n0.0,1.0,a\n")

	table, err := LoadCSV(path, "target")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	if table.NumSamples() != 3 || table.NumFeatures() != 2 {
		t.Fatalf("dims = %dx%d, want 3x2", table.NumSamples(), table.NumFeatures())
	}
	if !reflect.DeepEqual(table.FeatureNames, []string{"f1", "f2"}) {
		t.Errorf("FeatureNames = %v", table.FeatureNames)
	}
	if !reflect.DeepEqual(table.Labels, []string{"a", "b", "a"}) {
		t.Errorf("Labels = %v", table.Labels)
	}
	if got := table.Features.At(1, 1); got != 3.25 {
		t.Errorf("Features[1][1] = %g, want 3.25", got)
	}
}

func TestLoadCSVTargetNotLastColumn(t *testing.T) {
	path := writeCSV(t, "target,f1,f2\nx,1,2\ny,3,4\n")

	table, err := LoadCSV(path, "target")
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if !reflect.DeepEqual(table.Labels, []string{"x", "y"}) {
		t.Errorf("Labels = %v", table.Labels)
	}
	if got := table.Features.At(1, 0); got != 3 {
		t.Errorf("Features[1][0] = %g, want 3", got)
	}
}

func TestLoadCSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  string
	}{
		{
			name:    "missing target column",
			content: "f1,f2\n1,2\n",
			target:  "target",
		},
		{
			name:    "non-numeric feature",
			content: "f1,target\nnot-a-number,a\n",
			target:  "target",
		},
		{
			name:    "header only",
			content: "f1,target\n",
			target:  "target",
		},
		{
			name:    "no feature columns",
			content: "target\na\nb\n",
			target:  "target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCSV(t, tt.content)
			if _, err := LoadCSV(path, tt.target); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	if _, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv"), "target"); err == nil {
		t.Error("expected error for missing file")
	}
}
