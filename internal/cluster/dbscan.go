package cluster

import (
	"math"
	"sort"
)

// dbscan runs density-based clustering over the projected points. Labels are
// per-run ordinals starting at 0; sparse points get Noise. The scan order is
// the input order, so results are deterministic for a fixed input.
func dbscan(points [][]float64, eps float64, minPts int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}

	// Precompute the symmetric distance matrix; corpora that reach this code
	// path are bounded by the engine's resource limits.
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := euclidean(points[i], points[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	neighbors := func(i int) []int {
		out := make([]int, 0, minPts)
		for j := 0; j < n; j++ {
			if dist[i][j] <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	visited := make([]bool, n)
	next := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		seeds := neighbors(i)
		if len(seeds) < minPts {
			continue // stays noise unless reached as a border point
		}
		labels[i] = next
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == Noise {
				labels[j] = next
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			more := neighbors(j)
			if len(more) >= minPts {
				seeds = append(seeds, more...)
			}
		}
		next++
	}
	return labels
}

// estimateEps derives the DBSCAN radius from the data: 1.5x the median
// distance to each point's k-th nearest neighbor. The k-dist heuristic keeps
// the radius tight within dense regions without a hand-tuned constant.
func estimateEps(points [][]float64, k int) float64 {
	n := len(points)
	if n <= 1 {
		return 0
	}
	if k >= n {
		k = n - 1
	}
	if k < 1 {
		k = 1
	}

	kdists := make([]float64, 0, n)
	dists := make([]float64, 0, n-1)
	for i := 0; i < n; i++ {
		dists = dists[:0]
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			dists = append(dists, euclidean(points[i], points[j]))
		}
		sort.Float64s(dists)
		kdists = append(kdists, dists[k-1])
	}
	sort.Float64s(kdists)
	eps := 1.5 * kdists[len(kdists)/2]
	return math.Max(eps, 1e-9)
}
