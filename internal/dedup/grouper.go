// Package dedup incrementally assigns bookmarks to near-duplicate groups
// using simhash proximity. A coarse bucket index over a fixed fingerprint
// prefix bounds the candidate search so one insertion never scans the corpus.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/goodpocket/curator/internal/fingerprint"
)

// ErrNotReady is reported when a bookmark has no fingerprint yet. The caller
// leaves the bookmark unresolved and retries it on the next pass.
var ErrNotReady = errors.New("dedup: bookmark has no fingerprint")

// DefaultHammingThreshold is the maximum bit distance for joining a group.
const DefaultHammingThreshold = 3

// DefaultBucketBits is the fingerprint prefix width of the bucket index.
const DefaultBucketBits = 16

// Candidate is a duplicate group visible in a bucket.
type Candidate struct {
	GroupID     uuid.UUID
	Fingerprint uint64
}

// Index is the storage surface the grouper operates on. Implemented by
// db.DupGroupStore.
type Index interface {
	// CandidatesByBucket returns the groups indexed under bucketKey for the owner.
	CandidatesByBucket(ctx context.Context, owner uuid.UUID, bucketKey int64) ([]Candidate, error)
	// CreateGroup creates a singleton group with the bookmark as representative.
	CreateGroup(ctx context.Context, owner, representative uuid.UUID, fp uint64, bucketKey int64) (uuid.UUID, error)
	// AddMember adds the bookmark to the group and bumps its member count.
	// The bookmark's previous membership, if any, is replaced: membership is
	// single-primary at all times.
	AddMember(ctx context.Context, groupID, bookmarkID uuid.UUID) error
}

// Grouper finds or creates the duplicate group for a fingerprinted bookmark.
type Grouper struct {
	index      Index
	threshold  int
	bucketBits uint
}

// Option configures a Grouper.
type Option func(*Grouper)

// WithThreshold overrides the Hamming distance threshold.
func WithThreshold(threshold int) Option {
	return func(g *Grouper) { g.threshold = threshold }
}

// WithBucketBits overrides the bucket prefix width.
func WithBucketBits(bitWidth uint) Option {
	return func(g *Grouper) { g.bucketBits = bitWidth }
}

// NewGrouper creates a Grouper over the given index.
func NewGrouper(index Index, opts ...Option) *Grouper {
	g := &Grouper{
		index:      index,
		threshold:  DefaultHammingThreshold,
		bucketBits: DefaultBucketBits,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BucketKey returns the coarse bucket for a fingerprint: its top prefix bits,
// widened to int64 for storage.
func (g *Grouper) BucketKey(fp uint64) int64 {
	return int64(fp >> (64 - g.bucketBits))
}

// Assign places the bookmark into its duplicate group and returns the group
// id. It joins the closest candidate within the threshold (ties: smallest
// distance, then smallest group id) or creates a new singleton group.
func (g *Grouper) Assign(ctx context.Context, owner, bookmarkID uuid.UUID, fp uint64, hasFingerprint bool) (uuid.UUID, error) {
	if !hasFingerprint {
		return uuid.Nil, ErrNotReady
	}

	bucketKey := g.BucketKey(fp)
	candidates, err := g.index.CandidatesByBucket(ctx, owner, bucketKey)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load bucket candidates: %w", err)
	}

	best := uuid.Nil
	bestDist := g.threshold + 1
	for _, c := range candidates {
		d := fingerprint.Hamming(fp, c.Fingerprint)
		if d > g.threshold {
			continue
		}
		if d < bestDist || (d == bestDist && c.GroupID.String() < best.String()) {
			best = c.GroupID
			bestDist = d
		}
	}

	if best != uuid.Nil {
		if err := g.index.AddMember(ctx, best, bookmarkID); err != nil {
			return uuid.Nil, fmt.Errorf("join group %s: %w", best, err)
		}
		return best, nil
	}

	groupID, err := g.index.CreateGroup(ctx, owner, bookmarkID, fp, bucketKey)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create group: %w", err)
	}
	return groupID, nil
}
