// Package dataset loads processed feature tables for training.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/pkg/errors"
)

// Table is a loaded feature table: numeric features plus the categorical
// target column, already split the way the trainer consumes them.
type Table struct {
	// Features is the n_samples x n_features matrix of numeric columns.
	Features *mat.Dense

	// FeatureNames holds the header names of the feature columns, in order.
	FeatureNames []string

	// Labels holds the raw target value of every row.
	Labels []string
}

// NumSamples returns the number of rows.
func (t *Table) NumSamples() int {
	r, _ := t.Features.Dims()
	return r
}

// NumFeatures returns the number of feature columns.
func (t *Table) NumFeatures() int {
	_, c := t.Features.Dims()
	return c
}

// LoadCSV reads a headered CSV file and splits it into features and target.
// Every column except targetColumn must parse as float64.
func LoadCSV(path, targetColumn string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: failed to open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: failed to parse %s", path)
	}
	if len(records) < 2 {
		return nil, errors.NewModelError("dataset.LoadCSV", "no data rows in "+path, errors.ErrEmptyData)
	}

	header := records[0]
	targetIdx := -1
	featureNames := make([]string, 0, len(header)-1)
	for i, name := range header {
		if name == targetColumn {
			targetIdx = i
			continue
		}
		featureNames = append(featureNames, name)
	}
	if targetIdx < 0 {
		return nil, errors.NewValueError("dataset.LoadCSV",
			fmt.Sprintf("target column %q not found in %s", targetColumn, path))
	}
	if len(featureNames) == 0 {
		return nil, errors.NewValueError("dataset.LoadCSV", "table has no feature columns")
	}

	rows := records[1:]
	features := mat.NewDense(len(rows), len(featureNames), nil)
	labels := make([]string, len(rows))

	for i, rec := range rows {
		col := 0
		for j, cell := range rec {
			if j == targetIdx {
				labels[i] = cell
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.NewValueError("dataset.LoadCSV",
					fmt.Sprintf("row %d, column %q: cannot parse %q as float", i+2, header[j], cell))
			}
			features.Set(i, col, v)
			col++
		}
	}

	return &Table{
		Features:     features,
		FeatureNames: featureNames,
		Labels:       labels,
	}, nil
}
