package neural

import "math"

// Adam implements the Adam optimizer (Kingma & Ba, 2015) with the same
// defaults Keras uses for its Adam implementation.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	m    [][]float64
	v    [][]float64
	step int
}

// NewAdam creates an Adam optimizer with the given learning rate.
func NewAdam(learningRate float64) *Adam {
	return &Adam{
		LearningRate: learningRate,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// Update applies one Adam step to every parameter in place. The parameter
// list must be stable across calls: moment estimates are tracked by position.
func (a *Adam) Update(params []Param) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			a.m[i] = make([]float64, len(p.Value))
			a.v[i] = make([]float64, len(p.Value))
		}
	}

	a.step++
	correction1 := 1 - math.Pow(a.Beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for i, p := range params {
		m := a.m[i]
		v := a.v[i]
		for k, g := range p.Grad {
			m[k] = a.Beta1*m[k] + (1-a.Beta1)*g
			v[k] = a.Beta2*v[k] + (1-a.Beta2)*g*g

			mHat := m[k] / correction1
			vHat := v[k] / correction2
			p.Value[k] -= a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

// Reset clears the moment estimates, restarting the optimizer schedule.
func (a *Adam) Reset() {
	a.m = nil
	a.v = nil
	a.step = 0
}
