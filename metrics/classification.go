// Package metrics は分類モデルの評価指標を提供します。
package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/pkg/errors"
)

// logLossEpsilon は対数損失計算時に確率をクリップする下限値。
// scikit-learnのlog_lossと同じ値を使う。
const logLossEpsilon = 1e-15

// Accuracy はcategorical accuracyを計算する。
// yTrue, yPred は n_samples × n_classes のone-hot行列または確率行列で、
// 各行のargmaxが一致した割合を返す。
func Accuracy(yTrue, yPred mat.Matrix) (float64, error) {
	rTrue, cTrue := yTrue.Dims()
	rPred, cPred := yPred.Dims()

	if rTrue == 0 || cTrue == 0 {
		return 0, errors.NewValueError("Accuracy", "empty matrix")
	}
	if rTrue != rPred || cTrue != cPred {
		return 0, errors.NewDimensionError("Accuracy", rTrue, rPred, 0)
	}

	correct := 0
	for i := 0; i < rTrue; i++ {
		if argmaxRow(yTrue, i, cTrue) == argmaxRow(yPred, i, cTrue) {
			correct++
		}
	}

	return float64(correct) / float64(rTrue), nil
}

// LogLoss はカテゴリカル交差エントロピー損失を計算する。
// yTrue は n_samples × n_classes のone-hot行列、
// yProba は同形状の予測確率行列。確率は [ε, 1-ε] にクリップされる。
func LogLoss(yTrue, yProba mat.Matrix) (float64, error) {
	rTrue, cTrue := yTrue.Dims()
	rProba, cProba := yProba.Dims()

	if rTrue == 0 || cTrue == 0 {
		return 0, errors.NewValueError("LogLoss", "empty matrix")
	}
	if rTrue != rProba || cTrue != cProba {
		return 0, errors.NewDimensionError("LogLoss", rTrue, rProba, 0)
	}

	var sum float64
	for i := 0; i < rTrue; i++ {
		for j := 0; j < cTrue; j++ {
			y := yTrue.At(i, j)
			if y == 0 {
				continue
			}
			p := yProba.At(i, j)
			if p < logLossEpsilon {
				p = logLossEpsilon
			} else if p > 1-logLossEpsilon {
				p = 1 - logLossEpsilon
			}
			sum -= y * math.Log(p)
		}
	}

	return sum / float64(rTrue), nil
}

// argmaxRow は行列の第i行で最大値を取る列番号を返す
func argmaxRow(m mat.Matrix, i, cols int) int {
	best := 0
	bestVal := m.At(i, 0)
	for j := 1; j < cols; j++ {
		if v := m.At(i, j); v > bestVal {
			best = j
			bestVal = v
		}
	}
	return best
}
