package countmodel

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/3T-LVTN/model/internal/features"
)

// AlphaEstimate is the result of EstimateAlpha.
type AlphaEstimate struct {
	Alpha float64

	// Rows is the number of rows used by the auxiliary regression.
	Rows int
	// Dropped counts rows whose fitted mean was not positive and finite.
	Dropped int

	PoissonIterations int
	PoissonConverged  bool
}

// EstimateAlpha estimates the negative binomial dispersion of the outcome.
//
// A Poisson GLM of the outcome on every other column gives fitted means mu.
// alpha is the slope of a zero-intercept least squares fit of
// ((y-mu)² - mu)/mu on mu. Rows with mu <= 0 are left out of that fit.
func EstimateAlpha(ctx context.Context, frame *features.Frame, opts FitOptions) (*AlphaEstimate, error) {
	opts = opts.withDefaults()
	if frame == nil || frame.Len() < 2 {
		return nil, fmt.Errorf("%w: need at least two rows", ErrModelNotTrainable)
	}

	y, err := outcome(frame)
	if err != nil {
		return nil, err
	}

	var regressors []string
	for _, c := range frame.Columns() {
		if c != features.OutcomeColumn {
			regressors = append(regressors, c)
		}
	}
	x, err := matrix(frame, regressors)
	if err != nil {
		return nil, err
	}

	fit, err := fitPoisson(ctx, x, y, opts)
	if err != nil {
		return nil, err
	}

	aux := make([]float64, 0, len(y))
	mus := make([]float64, 0, len(y))
	for i, mu := range fit.mu {
		if !(mu > 0) || math.IsInf(mu, 0) {
			continue
		}
		aux = append(aux, ((y[i]-mu)*(y[i]-mu)-mu)/mu)
		mus = append(mus, mu)
	}

	est := &AlphaEstimate{
		Rows:              len(mus),
		Dropped:           len(y) - len(mus),
		PoissonIterations: fit.iterations,
		PoissonConverged:  fit.converged,
	}
	if len(mus) == 0 {
		return nil, fmt.Errorf("%w: no row has a positive fitted mean", ErrModelNotTrainable)
	}
	den := floats.Dot(mus, mus)
	if den == 0 {
		return nil, fmt.Errorf("%w: fitted means are all zero", ErrModelNotTrainable)
	}

	est.Alpha = floats.Dot(aux, mus) / den
	if math.IsNaN(est.Alpha) || math.IsInf(est.Alpha, 0) {
		return nil, fmt.Errorf("%w: dispersion is not finite", ErrModelNotTrainable)
	}
	return est, nil
}
