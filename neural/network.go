package neural

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/mlworks/tabtrain/core/model"
	"github.com/mlworks/tabtrain/metrics"
	"github.com/mlworks/tabtrain/pkg/errors"
)

// LossCategoricalCrossentropy is the only loss this trainer implements; the
// output layer must use the softmax activation so the fused delta applies.
const LossCategoricalCrossentropy = "categorical_crossentropy"

// MetricAccuracy is categorical accuracy over one-hot targets.
const MetricAccuracy = "accuracy"

// Sequential is a feed-forward network trained with mini-batch gradient
// descent, in the spirit of a compiled Keras Sequential model.
type Sequential struct {
	model.BaseEstimator

	Layers      []Layer
	Loss        string
	MetricNames []string

	optimizer *Adam
	compiled  bool
}

// NewSequential creates a network from an ordered list of layers.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

// Compile binds the optimizer, loss, and metric set to the network.
// Optimizer state is reset, so a model can be recompiled before retraining.
func (net *Sequential) Compile(optimizer *Adam, loss string, metricNames ...string) error {
	if len(net.Layers) == 0 {
		return errors.NewValueError("Sequential.Compile", "network has no layers")
	}
	if optimizer == nil {
		return errors.NewValueError("Sequential.Compile", "optimizer must not be nil")
	}
	if loss != LossCategoricalCrossentropy {
		return errors.NewValueError("Sequential.Compile",
			"unsupported loss: "+loss)
	}
	for _, m := range metricNames {
		if m != MetricAccuracy {
			return errors.NewValueError("Sequential.Compile", "unsupported metric: "+m)
		}
	}
	if out := net.outputLayer(); out == nil || out.Activation != ActivationSoftmax {
		return errors.NewValueError("Sequential.Compile",
			"categorical_crossentropy requires a softmax output layer")
	}

	optimizer.Reset()
	net.optimizer = optimizer
	net.Loss = loss
	net.MetricNames = metricNames
	net.compiled = true
	return nil
}

// FitConfig controls a single call to Fit.
type FitConfig struct {
	// Epochs is the maximum number of passes over the training portion.
	Epochs int

	// BatchSize is the mini-batch size.
	BatchSize int

	// ValidationSplit carves the given fraction off the tail of the data,
	// before any shuffling, as a held-out validation set.
	ValidationSplit float64

	// Shuffle reshuffles the training portion (never the validation split)
	// before each epoch.
	Shuffle bool

	// Seed drives weight initialization, shuffling, and dropout masks.
	Seed int64

	// Callbacks run after every epoch with that epoch's metrics.
	Callbacks []Callback
}

// History records per-epoch metric series in insertion order.
type History struct {
	Keys   []string
	Series map[string][]float64
}

func newHistory() *History {
	return &History{Series: make(map[string][]float64)}
}

func (h *History) append(key string, value float64) {
	if _, ok := h.Series[key]; !ok {
		h.Keys = append(h.Keys, key)
	}
	h.Series[key] = append(h.Series[key], value)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int {
	if len(h.Keys) == 0 {
		return 0
	}
	return len(h.Series[h.Keys[0]])
}

// Final returns the last recorded value of every series.
func (h *History) Final() map[string]float64 {
	out := make(map[string]float64, len(h.Keys))
	for _, k := range h.Keys {
		s := h.Series[k]
		if len(s) > 0 {
			out[k] = s[len(s)-1]
		}
	}
	return out
}

// Fit trains the network and returns the per-epoch history. Training metrics
// are computed over the training portion at the end of each epoch; val_loss
// and val_accuracy appear only when ValidationSplit is positive.
func (net *Sequential) Fit(X, Y *mat.Dense, cfg FitConfig) (history *History, err error) {
	defer errors.Recover(&err, "Sequential.Fit")

	if !net.compiled {
		return nil, errors.Wrap(errors.ErrNotCompiled, "Sequential.Fit")
	}
	if err := net.validateFit(X, Y, cfg); err != nil {
		return nil, err
	}

	n, _ := X.Dims()
	rng := rand.New(rand.NewSource(cfg.Seed))
	net.initialize(rng)

	// Validation split comes off the tail before any shuffling, matching the
	// fixed-boundary semantics of a framework validation_split.
	nVal := int(float64(n) * cfg.ValidationSplit)
	nTrain := n - nVal
	if nTrain == 0 {
		return nil, errors.NewValueError("Sequential.Fit",
			"validation split leaves no training samples")
	}

	trainIdx := make([]int, nTrain)
	for i := range trainIdx {
		trainIdx[i] = i
	}
	valIdx := make([]int, nVal)
	for i := range valIdx {
		valIdx[i] = nTrain + i
	}

	var xVal, yVal *mat.Dense
	if nVal > 0 {
		xVal = gatherRows(X, valIdx)
		yVal = gatherRows(Y, valIdx)
	}

	history = newHistory()

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if cfg.Shuffle {
			rng.Shuffle(nTrain, func(i, j int) {
				trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i]
			})
		}

		for start := 0; start < nTrain; start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > nTrain {
				end = nTrain
			}
			batch := trainIdx[start:end]
			xb := gatherRows(X, batch)
			yb := gatherRows(Y, batch)

			out := net.forward(xb, true)

			// Fused softmax + cross-entropy delta, averaged over the batch.
			rows, cols := out.Dims()
			delta := mat.NewDense(rows, cols, nil)
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					delta.Set(i, j, (out.At(i, j)-yb.At(i, j))/float64(rows))
				}
			}

			net.backward(delta)
			net.optimizer.Update(net.params())
		}

		epochMetrics := make(map[string]float64, 4)

		xTrain := gatherRows(X, trainIdx)
		yTrain := gatherRows(Y, trainIdx)
		loss, acc, err := net.evaluate(xTrain, yTrain)
		if err != nil {
			return nil, err
		}
		epochMetrics["loss"] = loss
		history.append("loss", loss)
		if net.hasMetric(MetricAccuracy) {
			epochMetrics["accuracy"] = acc
			history.append("accuracy", acc)
		}

		if nVal > 0 {
			valLoss, valAcc, err := net.evaluate(xVal, yVal)
			if err != nil {
				return nil, err
			}
			epochMetrics["val_loss"] = valLoss
			history.append("val_loss", valLoss)
			if net.hasMetric(MetricAccuracy) {
				epochMetrics["val_accuracy"] = valAcc
				history.append("val_accuracy", valAcc)
			}
		}

		env := &CallbackEnv{
			Epoch:   epoch,
			Epochs:  cfg.Epochs,
			Metrics: epochMetrics,
			Model:   net,
		}
		for _, cb := range cfg.Callbacks {
			if err := cb(env); err != nil {
				return nil, err
			}
		}
		if env.StopTraining {
			break
		}
	}

	net.SetFitted()
	return history, nil
}

// PredictProba returns the softmax class probabilities for each input row.
func (net *Sequential) PredictProba(X mat.Matrix) (retM *mat.Dense, err error) {
	defer errors.Recover(&err, "Sequential.PredictProba")

	if !net.IsFitted() {
		return nil, errors.NewNotFittedError("Sequential", "PredictProba")
	}
	xd, err := net.toInput(X, "Sequential.PredictProba")
	if err != nil {
		return nil, err
	}
	return net.forward(xd, false), nil
}

// Predict returns the predicted class index for each input row as an n x 1
// matrix.
func (net *Sequential) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := net.PredictProba(X)
	if err != nil {
		return nil, err
	}

	n, c := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		bestVal := proba.At(i, 0)
		for j := 1; j < c; j++ {
			if v := proba.At(i, j); v > bestVal {
				best = j
				bestVal = v
			}
		}
		out.Set(i, 0, float64(best))
	}
	return out, nil
}

// Evaluate computes loss and accuracy on the given one-hot labelled set.
func (net *Sequential) Evaluate(X, Y *mat.Dense) (loss, accuracy float64, err error) {
	if !net.IsFitted() {
		return 0, 0, errors.NewNotFittedError("Sequential", "Evaluate")
	}
	return net.evaluate(X, Y)
}

// Save persists the network to a gob file. Optimizer state is not saved;
// a loaded model must be recompiled before further training.
func (net *Sequential) Save(path string) error {
	if !net.IsFitted() {
		return errors.NewNotFittedError("Sequential", "Save")
	}
	if err := model.SaveModel(net, path); err != nil {
		return errors.NewArtifactError("save", path, err)
	}
	return nil
}

// LoadSequential loads a network saved with Save.
func LoadSequential(path string) (*Sequential, error) {
	var net Sequential
	if err := model.LoadModel(&net, path); err != nil {
		return nil, errors.NewArtifactError("load", path, err)
	}
	return &net, nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

func (net *Sequential) forward(x *mat.Dense, training bool) *mat.Dense {
	for _, l := range net.Layers {
		x = l.Forward(x, training)
	}
	return x
}

func (net *Sequential) backward(delta *mat.Dense) {
	grad := delta
	for i := len(net.Layers) - 1; i >= 0; i-- {
		grad = net.Layers[i].Backward(grad)
	}
}

func (net *Sequential) params() []Param {
	var ps []Param
	for _, l := range net.Layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// initialize sets up dense weights (when not already present) and wires the
// seeded rng into dropout layers.
func (net *Sequential) initialize(rng *rand.Rand) {
	for _, l := range net.Layers {
		switch layer := l.(type) {
		case *Dense:
			if layer.W == nil {
				layer.initialize(rng)
			}
		case *Dropout:
			layer.rng = rng
		}
	}
}

func (net *Sequential) evaluate(X, Y *mat.Dense) (float64, float64, error) {
	proba := net.forward(X, false)
	loss, err := metrics.LogLoss(Y, proba)
	if err != nil {
		return 0, 0, err
	}
	acc, err := metrics.Accuracy(Y, proba)
	if err != nil {
		return 0, 0, err
	}
	return loss, acc, nil
}

func (net *Sequential) hasMetric(name string) bool {
	for _, m := range net.MetricNames {
		if m == name {
			return true
		}
	}
	return false
}

// inputDim returns the InDim of the first dense layer, 0 if none exists.
func (net *Sequential) inputDim() int {
	for _, l := range net.Layers {
		if d, ok := l.(*Dense); ok {
			return d.InDim
		}
	}
	return 0
}

// outputLayer returns the last dense layer, nil if none exists.
func (net *Sequential) outputLayer() *Dense {
	for i := len(net.Layers) - 1; i >= 0; i-- {
		if d, ok := net.Layers[i].(*Dense); ok {
			return d
		}
	}
	return nil
}

func (net *Sequential) validateFit(X, Y *mat.Dense, cfg FitConfig) error {
	xRows, xCols := X.Dims()
	yRows, yCols := Y.Dims()

	if xRows == 0 || xCols == 0 {
		return errors.NewModelError("Sequential.Fit", "empty data", errors.ErrEmptyData)
	}
	if xRows != yRows {
		return errors.NewDimensionError("Sequential.Fit", xRows, yRows, 0)
	}
	if in := net.inputDim(); xCols != in {
		return errors.NewDimensionError("Sequential.Fit", in, xCols, 1)
	}
	if out := net.outputLayer(); yCols != out.OutDim {
		return errors.NewDimensionError("Sequential.Fit", out.OutDim, yCols, 1)
	}
	if cfg.Epochs <= 0 {
		return errors.NewValidationError("epochs", "must be positive", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return errors.NewValidationError("batch_size", "must be positive", cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return errors.NewValidationError("validation_split", "must be in [0, 1)", cfg.ValidationSplit)
	}
	return nil
}

func (net *Sequential) toInput(X mat.Matrix, op string) (*mat.Dense, error) {
	r, c := X.Dims()
	if in := net.inputDim(); c != in {
		return nil, errors.NewDimensionError(op, in, c, 1)
	}
	if xd, ok := X.(*mat.Dense); ok {
		return xd, nil
	}
	xd := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			xd.Set(i, j, X.At(i, j))
		}
	}
	return xd, nil
}

// snapshotWeights deep-copies every trainable parameter value.
func (net *Sequential) snapshotWeights() [][]float64 {
	params := net.params()
	snap := make([][]float64, len(params))
	for i, p := range params {
		cp := make([]float64, len(p.Value))
		copy(cp, p.Value)
		snap[i] = cp
	}
	return snap
}

// restoreWeights copies a snapshot back into the trainable parameters.
func (net *Sequential) restoreWeights(snap [][]float64) {
	params := net.params()
	for i, p := range params {
		if i < len(snap) {
			copy(p.Value, snap[i])
		}
	}
}

// gatherRows builds a dense matrix from the given row indices.
func gatherRows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, row := range idx {
		out.SetRow(i, m.RawRowView(row))
	}
	return out
}
