package countmodel

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	maxStepHalvings = 12
	logSDIterations = 50
)

type mixedFit struct {
	intercept    float64
	coef         []float64
	effects      map[int64]float64
	logSD        float64
	logPosterior float64
	iterations   int
	converged    bool
}

// mixedProblem is a negative binomial GLM with one random intercept per
// group, fitted at the posterior mode.
//
// Parameters θ = (intercept, β, u) with priors intercept, β ~ N(0, feSD²)
// and u ~ N(0, exp(2s)); the log sd s has prior N(0, alpha²).
type mixedProblem struct {
	a      *mat.Dense
	y      []float64
	alpha  float64
	feSD   float64
	p      int // fixed effects including the intercept
	levels []int64
}

func newMixedProblem(x *mat.Dense, groups []int64, y []float64, alpha, feSD float64) *mixedProblem {
	n, p := x.Dims()

	seen := make(map[int64]bool)
	var levels []int64
	for _, g := range groups {
		if !seen[g] {
			seen[g] = true
			levels = append(levels, g)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	col := make(map[int64]int, len(levels))
	for k, g := range levels {
		col[g] = 1 + p + k
	}

	a := mat.NewDense(n, 1+p+len(levels), nil)
	for i := 0; i < n; i++ {
		row := a.RawRowView(i)
		row[0] = 1
		copy(row[1:1+p], x.RawRowView(i))
		row[col[groups[i]]] = 1
	}

	return &mixedProblem{a: a, y: y, alpha: alpha, feSD: feSD, p: 1 + p, levels: levels}
}

func (m *mixedProblem) penalty(s float64) []float64 {
	_, k := m.a.Dims()
	pen := make([]float64, k)
	for j := 0; j < m.p; j++ {
		pen[j] = 1 / (m.feSD * m.feSD)
	}
	for j := m.p; j < k; j++ {
		pen[j] = math.Exp(-2 * s)
	}
	return pen
}

// logPosterior is the unnormalised log posterior at (θ, s) given the
// linear predictor and mean for θ.
func (m *mixedProblem) logPosterior(theta []float64, s float64, eta, mu []float64) float64 {
	inv := 1 / m.alpha
	var ll float64
	for i, y := range m.y {
		ll += y*eta[i] - (y+inv)*math.Log1p(m.alpha*mu[i])
	}

	fixed := theta[:m.p]
	u := theta[m.p:]
	ll -= floats.Dot(fixed, fixed) / (2 * m.feSD * m.feSD)
	ll -= floats.Dot(u, u)*math.Exp(-2*s)/2 + float64(len(u))*s
	ll -= s * s / (2 * m.alpha * m.alpha)
	return ll
}

// updateLogSD maximises the posterior over s for fixed u by Newton's method.
// The objective is concave in s.
func (m *mixedProblem) updateLogSD(u []float64, s float64) float64 {
	q := float64(len(u))
	if q == 0 {
		return 0
	}
	ss := floats.Dot(u, u)
	prec := 1 / (m.alpha * m.alpha)
	for i := 0; i < logSDIterations; i++ {
		e := math.Exp(-2 * s)
		g := ss*e - q - s*prec
		h := -2*ss*e - prec
		step := math.Max(-1, math.Min(1, g/h))
		s -= step
		if math.Abs(step) < 1e-12 {
			break
		}
	}
	return s
}

func (m *mixedProblem) fit(ctx context.Context, opts FitOptions) (*mixedFit, error) {
	n, k := m.a.Dims()

	theta := make([]float64, k)
	theta[0] = math.Log(floats.Sum(m.y) / float64(n))
	s := 0.0

	eta := make([]float64, n)
	mu := make([]float64, n)
	linearPredictor(m.a, theta, eta, mu)
	obj := m.logPosterior(theta, s, eta, mu)

	w := make([]float64, n)
	z := make([]float64, n)
	cand := make([]float64, k)
	candEta := make([]float64, n)
	candMu := make([]float64, n)

	out := &mixedFit{}
	for out.iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.iterations++

		for i, y := range m.y {
			w[i] = mu[i] / (1 + m.alpha*mu[i])
			z[i] = eta[i] + (y-mu[i])/mu[i]
		}
		next, err := weightedSolve(m.a, w, z, m.penalty(s))
		if err != nil {
			return nil, err
		}

		// Halve the step until the posterior does not decrease.
		step := 1.0
		for h := 0; h <= maxStepHalvings; h++ {
			for j := range cand {
				cand[j] = theta[j] + step*(next[j]-theta[j])
			}
			linearPredictor(m.a, cand, candEta, candMu)
			if m.logPosterior(cand, s, candEta, candMu) >= obj {
				break
			}
			step /= 2
		}
		copy(theta, cand)
		copy(eta, candEta)
		copy(mu, candMu)

		s = m.updateLogSD(theta[m.p:], s)
		nextObj := m.logPosterior(theta, s, eta, mu)
		if math.IsNaN(nextObj) || math.IsInf(nextObj, 0) {
			return nil, fmt.Errorf("%w: posterior is not finite at iteration %d", ErrModelNotTrainable, out.iterations)
		}
		if math.Abs(nextObj-obj) <= opts.Tolerance*(math.Abs(nextObj)+1) {
			obj = nextObj
			out.converged = true
			break
		}
		obj = nextObj
	}

	out.intercept = theta[0]
	out.coef = append([]float64(nil), theta[1:m.p]...)
	out.effects = make(map[int64]float64, len(m.levels))
	for j, g := range m.levels {
		out.effects[g] = theta[m.p+j]
	}
	out.logSD = s
	out.logPosterior = obj
	return out, nil
}
