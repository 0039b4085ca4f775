package features

import "math"

// Transform preprocesses a frame before it reaches the model. It must not
// modify its input.
type Transform func(*Frame) *Frame

// Identity returns a copy of the frame unchanged.
func Identity(f *Frame) *Frame {
	return f.Clone()
}

// Normalize fills missing cells with 0 and divides each feature column by
// its column max. A column whose max is <= 0 becomes all 0. Negative values
// in a column with a positive max stay negative, so results lie in
// (-inf, 1] and only non-negative columns land in [0, 1].
//
// Inference frames are normalised against themselves, so every positive
// feature of a one-row frame becomes 1.
func Normalize(f *Frame) *Frame {
	out := f.Clone()
	for i := range out.rows {
		for j, v := range out.rows[i] {
			if math.IsNaN(v) {
				out.set(i, j, 0)
			}
		}
	}

	for _, col := range FeatureColumns {
		j, ok := out.index[col]
		if !ok {
			continue
		}
		colMax := math.Inf(-1)
		for _, row := range out.rows {
			if row[j] > colMax {
				colMax = row[j]
			}
		}
		for i, row := range out.rows {
			if colMax <= 0 || math.IsInf(colMax, 0) {
				out.set(i, j, 0)
				continue
			}
			out.set(i, j, row[j]/colMax)
		}
	}
	return out
}
