package preprocessing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/core/model"
	"github.com/mlworks/tabtrain/pkg/errors"
)

// MeanImputer は欠損値（NaN）を列平均で補完する変換器。
// StandardScalerと同様に前段ステージで学習され、本ステージでは
// アーティファクトとしての検証と記録のみを行う。
type MeanImputer struct {
	model.BaseEstimator

	// Statistics は各特徴量の補完値（非欠損値の平均）
	Statistics []float64

	// NFeatures は特徴量の数
	NFeatures int
}

// NewMeanImputer は新しいMeanImputerを作成する
func NewMeanImputer() *MeanImputer {
	return &MeanImputer{}
}

// Fit は訓練データから各列の平均（NaNを除く）を計算する
func (m *MeanImputer) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MeanImputer.Fit", "empty data", errors.ErrEmptyData)
	}

	m.NFeatures = c
	m.Statistics = make([]float64, c)

	for j := 0; j < c; j++ {
		sum := 0.0
		n := 0
		for i := 0; i < r; i++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				continue
			}
			sum += v
			n++
		}
		if n == 0 {
			return errors.NewValueError("MeanImputer.Fit",
				fmt.Sprintf("column %d has no observed values", j))
		}
		m.Statistics[j] = sum / float64(n)
	}

	m.SetFitted()
	return nil
}

// Transform はNaNを学習済みの列平均で置き換える
func (m *MeanImputer) Transform(X mat.Matrix) (mat.Matrix, error) {
	if !m.IsFitted() {
		return nil, errors.NewNotFittedError("MeanImputer", "Transform")
	}

	r, c := X.Dims()
	if c != m.NFeatures {
		return nil, errors.NewDimensionError("MeanImputer.Transform", m.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := X.At(i, j)
			if math.IsNaN(v) {
				v = m.Statistics[j]
			}
			result.Set(i, j, v)
		}
	}

	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (m *MeanImputer) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// String は変換器の文字列表現を返す
func (m *MeanImputer) String() string {
	if !m.IsFitted() {
		return "MeanImputer()"
	}
	return fmt.Sprintf("MeanImputer(n_features=%d)", m.NFeatures)
}
