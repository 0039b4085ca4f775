package countmodel

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/3T-LVTN/model/internal/features"
)

const (
	// maxEta bounds the linear predictor while fitting so exp never overflows.
	maxEta = 30.0

	ridge = 1e-8
)

// FitOptions bounds the iterative fits.
type FitOptions struct {
	MaxIterations int
	Tolerance     float64

	// FixedEffectSD is the prior sd of the intercept and feature coefficients.
	FixedEffectSD float64

	// MinAlpha is the smallest dispersion the negative binomial fit accepts.
	MinAlpha float64
}

// DefaultFitOptions returns the production settings.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		MaxIterations: 100,
		Tolerance:     1e-8,
		FixedEffectSD: 2,
		MinAlpha:      1e-6,
	}
}

func (o FitOptions) withDefaults() FitOptions {
	d := DefaultFitOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.FixedEffectSD <= 0 {
		o.FixedEffectSD = d.FixedEffectSD
	}
	if o.MinAlpha <= 0 {
		o.MinAlpha = d.MinAlpha
	}
	return o
}

// matrix copies the named columns into a dense n×p matrix. Missing cells
// are rejected; frames must be preprocessed first.
func matrix(frame *features.Frame, columns []string) (*mat.Dense, error) {
	sel, err := frame.Select(columns...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotTrainable, err)
	}
	n, p := sel.Len(), len(columns)
	if n == 0 || p == 0 {
		return nil, fmt.Errorf("%w: empty design matrix", ErrModelNotTrainable)
	}
	data := make([]float64, 0, n*p)
	for i := 0; i < n; i++ {
		row := sel.Row(i)
		if floats.HasNaN(row) {
			return nil, fmt.Errorf("%w: row %d has missing values", ErrModelNotTrainable, i)
		}
		data = append(data, row...)
	}
	return mat.NewDense(n, p, data), nil
}

// outcome returns the label column, which must be finite and non-negative
// with a positive mean.
func outcome(frame *features.Frame) ([]float64, error) {
	y := frame.Column(features.OutcomeColumn)
	if y == nil {
		return nil, fmt.Errorf("%w: frame has no %s column", ErrModelNotTrainable, features.OutcomeColumn)
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("%w: invalid outcome %v at row %d", ErrModelNotTrainable, v, i)
		}
	}
	if floats.Sum(y) <= 0 {
		return nil, fmt.Errorf("%w: every outcome is zero", ErrModelNotTrainable)
	}
	return y, nil
}

// weightedSolve solves (AᵀWA + diag(penalty)) θ = AᵀWz by Cholesky.
func weightedSolve(a *mat.Dense, w, z, penalty []float64) ([]float64, error) {
	n, k := a.Dims()
	scaled := mat.NewDense(n, k, nil)
	rhs := make([]float64, n)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		floats.ScaleTo(scaled.RawRowView(i), sw, a.RawRowView(i))
		rhs[i] = sw * z[i]
	}

	var gram mat.SymDense
	gram.SymOuterK(1, scaled.T())
	for j := 0; j < k; j++ {
		gram.SetSym(j, j, gram.At(j, j)+penalty[j]+ridge)
	}

	b := mat.NewVecDense(k, nil)
	b.MulVec(scaled.T(), mat.NewVecDense(n, rhs))

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, fmt.Errorf("%w: normal equations are not positive definite", ErrModelNotTrainable)
	}
	theta := mat.NewVecDense(k, nil)
	if err := chol.SolveVecTo(theta, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelNotTrainable, err)
	}

	out := make([]float64, k)
	copy(out, theta.RawVector().Data)
	if floats.HasNaN(out) {
		return nil, fmt.Errorf("%w: solve produced NaN", ErrModelNotTrainable)
	}
	return out, nil
}

// linearPredictor sets eta = Aθ, clamped to ±maxEta, and mu = exp(eta).
func linearPredictor(a *mat.Dense, theta, eta, mu []float64) {
	_, k := a.Dims()
	v := mat.NewVecDense(len(eta), eta)
	v.MulVec(a, mat.NewVecDense(k, theta))
	for i, e := range eta {
		e = math.Max(-maxEta, math.Min(maxEta, e))
		eta[i] = e
		mu[i] = math.Exp(e)
	}
}

type poissonFit struct {
	coef       []float64
	mu         []float64
	deviance   float64
	iterations int
	converged  bool
}

// fitPoisson fits a log-link Poisson GLM by IRLS. No intercept is added;
// x is used as given.
func fitPoisson(ctx context.Context, x *mat.Dense, y []float64, opts FitOptions) (*poissonFit, error) {
	n, p := x.Dims()
	mean := floats.Sum(y) / float64(n)

	mu := make([]float64, n)
	eta := make([]float64, n)
	for i := range y {
		mu[i] = (y[i] + mean) / 2
		eta[i] = math.Log(mu[i])
	}

	w := make([]float64, n)
	z := make([]float64, n)
	penalty := make([]float64, p)
	dev := poissonDeviance(y, mu)

	fit := &poissonFit{mu: mu}
	for fit.iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fit.iterations++

		for i := range y {
			w[i] = mu[i]
			z[i] = eta[i] + (y[i]-mu[i])/mu[i]
		}
		coef, err := weightedSolve(x, w, z, penalty)
		if err != nil {
			return nil, err
		}
		fit.coef = coef
		linearPredictor(x, coef, eta, mu)

		next := poissonDeviance(y, mu)
		if math.Abs(next-dev) <= opts.Tolerance*(math.Abs(next)+0.1) {
			dev = next
			fit.converged = true
			break
		}
		dev = next
	}
	fit.deviance = dev
	return fit, nil
}

func poissonDeviance(y, mu []float64) float64 {
	var d float64
	for i := range y {
		if y[i] > 0 {
			d += y[i]*math.Log(y[i]/mu[i]) - (y[i] - mu[i])
		} else {
			d += mu[i]
		}
	}
	return 2 * d
}
