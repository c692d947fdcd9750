package neural

import (
	"encoding/gob"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Supported activation names.
const (
	ActivationReLU    = "relu"
	ActivationSoftmax = "softmax"
	ActivationLinear  = "linear"
)

func init() {
	// Layers are stored behind the Layer interface, so concrete types must be
	// registered for gob persistence.
	gob.Register(&Dense{})
	gob.Register(&Dropout{})
}

// Param is a trainable parameter: a flat value slice and its gradient,
// accumulated during the last backward pass.
type Param struct {
	Value []float64
	Grad  []float64
}

// Layer is a single layer of a Sequential network.
type Layer interface {
	// Forward computes the layer output for a batch. The training flag
	// switches train-only behavior such as dropout masking.
	Forward(x *mat.Dense, training bool) *mat.Dense

	// Backward receives the gradient of the loss with respect to the layer
	// output and returns the gradient with respect to the layer input.
	// Parameter gradients are accumulated internally for the optimizer.
	Backward(grad *mat.Dense) *mat.Dense

	// Params returns the layer's trainable parameters, empty for
	// parameter-free layers.
	Params() []Param
}

// Dense is a fully connected layer with an elementwise activation.
// Weights use the flat row-major layout InDim x OutDim so the layer stays
// gob-encodable; mat views are created on demand and share the backing slice.
type Dense struct {
	InDim      int
	OutDim     int
	Activation string

	W []float64 // InDim x OutDim, row-major
	B []float64 // OutDim

	// Per-batch caches for the backward pass. Not persisted.
	x *mat.Dense
	z *mat.Dense

	gradW []float64
	gradB []float64
}

// NewDense creates a dense layer. Weights are initialized on the first Fit.
func NewDense(inDim, outDim int, activation string) *Dense {
	return &Dense{
		InDim:      inDim,
		OutDim:     outDim,
		Activation: activation,
	}
}

// initialize sets up Glorot-uniform weights and zero biases.
func (d *Dense) initialize(rng *rand.Rand) {
	d.W = make([]float64, d.InDim*d.OutDim)
	d.B = make([]float64, d.OutDim)
	d.gradW = make([]float64, len(d.W))
	d.gradB = make([]float64, len(d.B))

	limit := math.Sqrt(6.0 / float64(d.InDim+d.OutDim))
	for i := range d.W {
		d.W[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Forward computes activation(x*W + b).
func (d *Dense) Forward(x *mat.Dense, training bool) *mat.Dense {
	n, _ := x.Dims()
	w := mat.NewDense(d.InDim, d.OutDim, d.W)

	z := mat.NewDense(n, d.OutDim, nil)
	z.Mul(x, w)
	for i := 0; i < n; i++ {
		for j := 0; j < d.OutDim; j++ {
			z.Set(i, j, z.At(i, j)+d.B[j])
		}
	}

	if training {
		d.x = x
		d.z = z
	}

	switch d.Activation {
	case ActivationReLU:
		out := mat.NewDense(n, d.OutDim, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < d.OutDim; j++ {
				if v := z.At(i, j); v > 0 {
					out.Set(i, j, v)
				}
			}
		}
		return out
	case ActivationSoftmax:
		return softmax(z)
	default:
		return z
	}
}

// Backward computes parameter gradients and the input gradient.
//
// For the softmax activation the incoming gradient must already be the fused
// softmax+cross-entropy delta (p - y), so the activation derivative is skipped.
func (d *Dense) Backward(grad *mat.Dense) *mat.Dense {
	n, _ := grad.Dims()

	var dz *mat.Dense
	switch d.Activation {
	case ActivationReLU:
		dz = mat.NewDense(n, d.OutDim, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < d.OutDim; j++ {
				if d.z.At(i, j) > 0 {
					dz.Set(i, j, grad.At(i, j))
				}
			}
		}
	default:
		dz = grad
	}

	// dW = x^T * dz, db = column sums of dz.
	if d.gradW == nil {
		d.gradW = make([]float64, len(d.W))
		d.gradB = make([]float64, len(d.B))
	}
	gw := mat.NewDense(d.InDim, d.OutDim, d.gradW)
	gw.Mul(d.x.T(), dz)
	for j := 0; j < d.OutDim; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += dz.At(i, j)
		}
		d.gradB[j] = sum
	}

	// dx = dz * W^T.
	w := mat.NewDense(d.InDim, d.OutDim, d.W)
	dx := mat.NewDense(n, d.InDim, nil)
	dx.Mul(dz, w.T())
	return dx
}

// Params returns the weight and bias parameters.
func (d *Dense) Params() []Param {
	if d.gradW == nil {
		d.gradW = make([]float64, len(d.W))
		d.gradB = make([]float64, len(d.B))
	}
	return []Param{
		{Value: d.W, Grad: d.gradW},
		{Value: d.B, Grad: d.gradB},
	}
}

// Dropout zeroes a random fraction of its inputs during training, scaling the
// survivors by 1/(1-rate) so inference needs no rescaling (inverted dropout).
type Dropout struct {
	Rate float64

	rng  *rand.Rand
	mask []float64
}

// NewDropout creates a dropout layer with the given drop rate.
func NewDropout(rate float64) *Dropout {
	return &Dropout{Rate: rate}
}

// Forward applies the dropout mask when training; it is the identity otherwise.
func (d *Dropout) Forward(x *mat.Dense, training bool) *mat.Dense {
	if !training || d.Rate <= 0 {
		return x
	}

	n, c := x.Dims()
	if len(d.mask) != n*c {
		d.mask = make([]float64, n*c)
	}
	keep := 1.0 - d.Rate
	scale := 1.0 / keep

	out := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			m := 0.0
			if d.rng.Float64() < keep {
				m = scale
			}
			d.mask[i*c+j] = m
			out.Set(i, j, x.At(i, j)*m)
		}
	}
	return out
}

// Backward propagates gradients through the mask used in the forward pass.
func (d *Dropout) Backward(grad *mat.Dense) *mat.Dense {
	n, c := grad.Dims()
	out := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, grad.At(i, j)*d.mask[i*c+j])
		}
	}
	return out
}

// Params returns nil; dropout has no trainable parameters.
func (d *Dropout) Params() []Param { return nil }

// softmax computes a numerically stable row-wise softmax.
func softmax(z *mat.Dense) *mat.Dense {
	n, c := z.Dims()
	out := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		maxVal := z.At(i, 0)
		for j := 1; j < c; j++ {
			if v := z.At(i, j); v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(z.At(i, j) - maxVal)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}
