package cluster

import (
	"math"
	"math/rand"
)

// project maps L2-normalized input vectors into a lower-dimensional space via
// a seeded Gaussian random projection. The matrix is fully determined by the
// seed, so a fixed seed reproduces the projection within a run. Inputs whose
// dimensionality is already at or below targetDim are passed through.
func project(vectors [][]float32, targetDim int, seed int64) [][]float64 {
	if len(vectors) == 0 {
		return nil
	}
	inputDim := len(vectors[0])
	normalized := make([][]float64, len(vectors))
	for i, v := range vectors {
		normalized[i] = l2Normalize(v)
	}
	if inputDim <= targetDim {
		return normalized
	}

	rng := rand.New(rand.NewSource(seed))
	scale := 1 / math.Sqrt(float64(targetDim))
	matrix := make([][]float64, targetDim)
	for r := range matrix {
		row := make([]float64, inputDim)
		for c := range row {
			row[c] = rng.NormFloat64() * scale
		}
		matrix[r] = row
	}

	projected := make([][]float64, len(normalized))
	for i, v := range normalized {
		out := make([]float64, targetDim)
		for r, row := range matrix {
			var sum float64
			for c, x := range v {
				sum += row[c] * x
			}
			out[r] = sum
		}
		projected[i] = out
	}
	return projected
}

// l2Normalize converts to float64 and scales to unit length, emulating the
// cosine metric under Euclidean distances downstream. Zero vectors pass
// through unchanged.
func l2Normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var norm float64
	for i, x := range v {
		out[i] = float64(x)
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
