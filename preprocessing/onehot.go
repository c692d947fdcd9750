package preprocessing

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/core/model"
	"github.com/mlworks/tabtrain/pkg/errors"
)

// OneHotEncoder はscikit-learn互換のone-hotエンコーダー
// カテゴリラベルを、カテゴリ数分の列を持つバイナリ行列に変換する
type OneHotEncoder struct {
	model.BaseEstimator

	// Categories は学習時に観測したカテゴリ（ソート済み）
	Categories []string
}

// NewOneHotEncoder は新しいOneHotEncoderを作成する
//
// 使用例:
//
//	encoder := preprocessing.NewOneHotEncoder()
//	Y, err := encoder.FitTransform(labels)
func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{}
}

// Fit は訓練ラベルからカテゴリ一覧を学習する
//
// パラメータ:
//   - labels: 訓練データの目的変数ラベル
//
// 戻り値:
//   - error: エラーが発生した場合
func (e *OneHotEncoder) Fit(labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	seen := make(map[string]struct{}, len(labels))
	categories := make([]string, 0)
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			categories = append(categories, l)
		}
	}
	// scikit-learnと同じくカテゴリは辞書順で保持する
	sort.Strings(categories)

	e.Categories = categories
	e.SetFitted()
	return nil
}

// Transform はラベル列をone-hot行列に変換する
//
// パラメータ:
//   - labels: 変換するラベル
//
// 戻り値:
//   - *mat.Dense: n_samples × n_categories のone-hot行列
//   - error: 未学習の場合、または未知のラベルが含まれる場合
func (e *OneHotEncoder) Transform(labels []string) (*mat.Dense, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	if len(labels) == 0 {
		return nil, errors.NewModelError("OneHotEncoder.Transform", "empty data", errors.ErrEmptyData)
	}

	result := mat.NewDense(len(labels), len(e.Categories), nil)
	for i, l := range labels {
		j, ok := e.categoryIndex(l)
		if !ok {
			// handle_unknown="error" 相当
			return nil, errors.NewValueError("OneHotEncoder.Transform",
				fmt.Sprintf("found unknown category %q during transform", l))
		}
		result.Set(i, j, 1.0)
	}

	return result, nil
}

// FitTransform は訓練ラベルで学習し、同じラベルを変換する
func (e *OneHotEncoder) FitTransform(labels []string) (*mat.Dense, error) {
	if err := e.Fit(labels); err != nil {
		return nil, err
	}
	return e.Transform(labels)
}

// InverseTransform はone-hot行列（または確率行列）をラベル列に戻す。
// 各行の最大値の列をカテゴリとして採用する。
func (e *OneHotEncoder) InverseTransform(X mat.Matrix) ([]string, error) {
	if !e.IsFitted() {
		return nil, errors.NewNotFittedError("OneHotEncoder", "InverseTransform")
	}

	r, c := X.Dims()
	if c != len(e.Categories) {
		return nil, errors.NewDimensionError("OneHotEncoder.InverseTransform", len(e.Categories), c, 1)
	}

	labels := make([]string, r)
	for i := 0; i < r; i++ {
		best := 0
		bestVal := X.At(i, 0)
		for j := 1; j < c; j++ {
			if v := X.At(i, j); v > bestVal {
				best = j
				bestVal = v
			}
		}
		labels[i] = e.Categories[best]
	}

	return labels, nil
}

// NumCategories は学習したカテゴリ数を返す
func (e *OneHotEncoder) NumCategories() int {
	return len(e.Categories)
}

// categoryIndex はソート済みカテゴリから二分探索でインデックスを引く
func (e *OneHotEncoder) categoryIndex(label string) (int, bool) {
	i := sort.SearchStrings(e.Categories, label)
	if i < len(e.Categories) && e.Categories[i] == label {
		return i, true
	}
	return 0, false
}

// GetParams はエンコーダーのパラメータを取得する
func (e *OneHotEncoder) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"handle_unknown": "error",
		"sparse_output":  false,
	}
}

// String はエンコーダーの文字列表現を返す
func (e *OneHotEncoder) String() string {
	if !e.IsFitted() {
		return "OneHotEncoder()"
	}
	return fmt.Sprintf("OneHotEncoder(n_categories=%d)", len(e.Categories))
}
