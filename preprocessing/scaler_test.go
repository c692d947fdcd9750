package preprocessing

import (
	"bytes"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/core/model"
)

func TestStandardScalerFitTransform(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
	})

	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	// Each column has mean 0 and unit variance after scaling.
	r, c := scaled.Dims()
	for j := 0; j < c; j++ {
		sum := 0.0
		sumSq := 0.0
		for i := 0; i < r; i++ {
			v := scaled.At(i, j)
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(r)
		variance := sumSq/float64(r) - mean*mean
		if math.Abs(mean) > 1e-12 {
			t.Errorf("column %d mean = %g, want 0", j, mean)
		}
		if math.Abs(variance-1.0) > 1e-12 {
			t.Errorf("column %d variance = %g, want 1", j, variance)
		}
	}
}

func TestStandardScalerConstantColumn(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{5, 5, 5})

	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}
	for i := 0; i < 3; i++ {
		if v := scaled.At(i, 0); v != 0 {
			t.Errorf("constant column should scale to 0, got %g", v)
		}
	}
}

func TestStandardScalerInverseTransform(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{
		1.5, -2,
		0.5, 4,
		-1, 7,
	})

	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}
	back, err := scaler.InverseTransform(scaled)
	if err != nil {
		t.Fatalf("InverseTransform: %v", err)
	}
	if !mat.EqualApprox(back, X, 1e-10) {
		t.Errorf("round trip mismatch:\n%v\nwant:\n%v", mat.Formatted(back), mat.Formatted(X))
	}
}

func TestStandardScalerNotFitted(t *testing.T) {
	scaler := NewStandardScaler()
	if _, err := scaler.Transform(mat.NewDense(1, 1, nil)); err == nil {
		t.Error("Transform before Fit should fail")
	}
}

func TestMeanImputerTransform(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(4, 2, []float64{
		1, nan,
		2, 8,
		nan, 10,
		3, 12,
	})

	imputer := NewMeanImputer()
	filled, err := imputer.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	if got := imputer.Statistics[0]; got != 2.0 {
		t.Errorf("column 0 statistic = %g, want 2", got)
	}
	if got := imputer.Statistics[1]; got != 10.0 {
		t.Errorf("column 1 statistic = %g, want 10", got)
	}
	if got := filled.At(2, 0); got != 2.0 {
		t.Errorf("imputed value = %g, want 2", got)
	}
	if got := filled.At(0, 1); got != 10.0 {
		t.Errorf("imputed value = %g, want 10", got)
	}
	// Observed values pass through unchanged.
	if got := filled.At(1, 0); got != 2.0 {
		t.Errorf("observed value changed: %g", got)
	}
}

func TestMeanImputerAllMissingColumn(t *testing.T) {
	nan := math.NaN()
	X := mat.NewDense(2, 1, []float64{nan, nan})

	imputer := NewMeanImputer()
	if err := imputer.Fit(X); err == nil {
		t.Error("expected error for column with no observed values")
	}
}

func TestScalerGobRoundTrip(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6})
	scaler := NewStandardScaler()
	if err := scaler.Fit(X); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	var buf bytes.Buffer
	if err := model.SaveModelToWriter(scaler, &buf); err != nil {
		t.Fatalf("SaveModelToWriter: %v", err)
	}
	var loaded StandardScaler
	if err := model.LoadModelFromReader(&loaded, &buf); err != nil {
		t.Fatalf("LoadModelFromReader: %v", err)
	}

	if !loaded.IsFitted() {
		t.Error("loaded scaler should be fitted")
	}
	got, err := loaded.Transform(X)
	if err != nil {
		t.Fatalf("Transform on loaded scaler: %v", err)
	}
	want, _ := scaler.Transform(X)
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Error("loaded scaler disagrees with original")
	}
}
