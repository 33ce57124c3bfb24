package cluster

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

type EngineSuite struct {
	suite.Suite
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.engine = NewEngine(Config{})
}

// twoGroups builds n points per group around two well-separated centroids in
// a 32-dim space, with deterministic jitter.
func twoGroups(n int, jitter float64) []Point {
	rng := rand.New(rand.NewSource(7))
	points := make([]Point, 0, 2*n)
	for g := 0; g < 2; g++ {
		for i := 0; i < n; i++ {
			vec := make([]float32, 32)
			// Group 0 concentrates on the first axis, group 1 on the last.
			axis := 0
			if g == 1 {
				axis = 31
			}
			vec[axis] = 10
			for d := range vec {
				vec[d] += float32(rng.NormFloat64() * jitter)
			}
			points = append(points, Point{ID: uuid.New(), Vector: vec})
		}
	}
	return points
}

func (s *EngineSuite) TestBelowCorpusFloorStaysUnclustered() {
	points := twoGroups(2, 0.05)[:4] // 4 points, floor is 5
	res, err := s.engine.Cluster(points, ModeFull, 42)
	s.Require().NoError(err)
	s.Len(res.Labels, 4)
	for _, label := range res.Labels {
		s.Equal(Noise, label)
	}
	s.Empty(res.Sizes)
}

func (s *EngineSuite) TestTwoSeparatedGroupsYieldTwoClusters() {
	points := twoGroups(10, 0.05)
	res, err := s.engine.Cluster(points, ModeFull, 42)
	s.Require().NoError(err)

	s.Len(res.Sizes, 2, "expected exactly 2 non-noise clusters")
	total := 0
	for _, size := range res.Sizes {
		s.GreaterOrEqual(size, 8, "each cluster should hold roughly 10 members")
		total += size
	}
	s.GreaterOrEqual(total, 18)

	// Members of the same group share a label.
	first := res.Labels[points[0].ID]
	last := res.Labels[points[19].ID]
	s.NotEqual(Noise, first)
	s.NotEqual(Noise, last)
	s.NotEqual(first, last)
}

func (s *EngineSuite) TestMembershipStableAcrossRuns() {
	points := twoGroups(10, 0.05)
	res1, err := s.engine.Cluster(points, ModeFull, 1)
	s.Require().NoError(err)
	res2, err := s.engine.Cluster(points, ModeFull, 99)
	s.Require().NoError(err)

	// Ids may differ between runs; co-membership must not.
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			same1 := res1.Labels[points[i].ID] == res1.Labels[points[j].ID]
			same2 := res2.Labels[points[i].ID] == res2.Labels[points[j].ID]
			s.Equal(same1, same2)
		}
	}
}

func (s *EngineSuite) TestFullModeRejectsOversizedCorpus() {
	engine := NewEngine(Config{MaxFullCorpus: 10})
	points := twoGroups(10, 0.05) // 20 points

	_, err := engine.Cluster(points, ModeFull, 42)
	s.ErrorIs(err, ErrResourceExceeded)

	// The explicit degradation mode accepts the same corpus.
	res, err := engine.Cluster(points, ModeRepresentatives, 42)
	s.Require().NoError(err)
	s.Len(res.Sizes, 2)
}

func (s *EngineSuite) TestInheritCopiesRepresentativeLabels() {
	points := twoGroups(10, 0.05)
	res, err := s.engine.Cluster(points, ModeRepresentatives, 42)
	s.Require().NoError(err)

	rep := points[0].ID
	member := uuid.New()
	before := res.Sizes[res.Labels[rep]]
	res.Inherit(map[uuid.UUID]uuid.UUID{member: rep, rep: rep})

	s.Equal(res.Labels[rep], res.Labels[member])
	s.Equal(before+1, res.Sizes[res.Labels[rep]])
}

func (s *EngineSuite) TestEmptyCorpus() {
	res, err := s.engine.Cluster(nil, ModeFull, 42)
	s.Require().NoError(err)
	s.Empty(res.Labels)
}
