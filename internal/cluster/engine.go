// Package cluster partitions an owner's embedded bookmarks into semantic
// clusters. Two stages: a seeded random projection into a lower-dimensional
// space, then density-based clustering over the projected points. Cluster ids
// are ordinals local to one run; only membership is meaningful across runs.
package cluster

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Noise is the reserved label for unclustered points.
const Noise = -1

// Mode selects the clustering fidelity.
type Mode int

const (
	// ModeFull clusters every embedded bookmark.
	ModeFull Mode = iota
	// ModeRepresentatives clusters one point per duplicate group; other
	// members inherit their representative's cluster through Result.Inherit.
	// This is the explicit degradation path for oversized corpora.
	ModeRepresentatives
)

// ErrResourceExceeded is reported when a ModeFull corpus is larger than the
// configured bound. The caller retries with ModeRepresentatives.
var ErrResourceExceeded = errors.New("cluster: corpus exceeds full-fidelity bound")

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	// MinCorpus is the floor below which clustering is skipped entirely.
	MinCorpus int
	// MinClusterSize is the density threshold: smaller accumulations stay noise.
	MinClusterSize int
	// NeighborCount bounds the k used by the k-dist radius estimate.
	NeighborCount int
	// TargetDim is the projection dimensionality.
	TargetDim int
	// MaxFullCorpus is the largest corpus ModeFull accepts.
	MaxFullCorpus int
}

// Defaults mirror the tuned values of the original service.
const (
	DefaultMinCorpus      = 5
	DefaultMinClusterSize = 3
	DefaultNeighborCount  = 10
	DefaultTargetDim      = 15
	DefaultMaxFullCorpus  = 2000
)

func (c Config) withDefaults() Config {
	if c.MinCorpus <= 0 {
		c.MinCorpus = DefaultMinCorpus
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = DefaultMinClusterSize
	}
	if c.NeighborCount <= 0 {
		c.NeighborCount = DefaultNeighborCount
	}
	if c.TargetDim <= 0 {
		c.TargetDim = DefaultTargetDim
	}
	if c.MaxFullCorpus <= 0 {
		c.MaxFullCorpus = DefaultMaxFullCorpus
	}
	return c
}

// Point is one embedded bookmark (or group representative) to cluster.
type Point struct {
	ID     uuid.UUID
	Vector []float32
}

// Result maps bookmark ids to cluster labels for one run.
type Result struct {
	Labels map[uuid.UUID]int
	Sizes  map[int]int
}

// Inherit assigns each member the label of its group representative. Members
// whose representative was not clustered stay unlabeled (treated as Noise by
// callers). Used after a ModeRepresentatives run.
func (r *Result) Inherit(memberToRepresentative map[uuid.UUID]uuid.UUID) {
	for member, rep := range memberToRepresentative {
		if member == rep {
			continue
		}
		if label, ok := r.Labels[rep]; ok {
			r.Labels[member] = label
			if label != Noise {
				r.Sizes[label]++
			}
		}
	}
}

// Engine runs the two-stage clustering.
type Engine struct {
	cfg Config
}

// NewEngine creates an Engine, filling config defaults.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Cluster partitions the points. A corpus below the minimum floor returns all
// points as Noise without error. In ModeFull a corpus above MaxFullCorpus
// returns ErrResourceExceeded. The seed fixes the projection for the run.
func (e *Engine) Cluster(points []Point, mode Mode, seed int64) (*Result, error) {
	res := &Result{
		Labels: make(map[uuid.UUID]int, len(points)),
		Sizes:  make(map[int]int),
	}

	if mode == ModeFull && len(points) > e.cfg.MaxFullCorpus {
		return nil, fmt.Errorf("%w: %d points, bound %d", ErrResourceExceeded, len(points), e.cfg.MaxFullCorpus)
	}

	if len(points) < e.cfg.MinCorpus {
		for _, p := range points {
			res.Labels[p.ID] = Noise
		}
		return res, nil
	}

	vectors := make([][]float32, len(points))
	for i, p := range points {
		vectors[i] = p.Vector
	}
	projected := project(vectors, e.cfg.TargetDim, seed)

	k := e.cfg.MinClusterSize
	if e.cfg.NeighborCount < k {
		k = e.cfg.NeighborCount
	}
	eps := estimateEps(projected, k)
	labels := dbscan(projected, eps, e.cfg.MinClusterSize)

	for i, p := range points {
		res.Labels[p.ID] = labels[i]
		if labels[i] != Noise {
			res.Sizes[labels[i]]++
		}
	}
	return res, nil
}
