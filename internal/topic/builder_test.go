package topic

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/goodpocket/curator/pkg/models"
)

type BuilderSuite struct {
	suite.Suite
	builder *Builder
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.builder = NewBuilder(Config{})
}

func group(domain string, size int, epoch int64, tags ...string) GroupInfo {
	g := GroupInfo{ID: uuid.New(), Domain: domain, Size: size, UpdatedEpoch: epoch}
	for i, tag := range tags {
		g.Tags = append(g.Tags, models.TagWeight{Label: tag, Weight: 1.0 / float64(i+1)})
	}
	return g
}

// collectGroupIDs walks the tree and returns every referenced group id.
func collectGroupIDs(n *Node) []uuid.UUID {
	out := append([]uuid.UUID{}, n.GroupIDs...)
	for _, c := range n.Children {
		out = append(out, collectGroupIDs(c)...)
	}
	return out
}

func (s *BuilderSuite) checkInvariants(n *Node) {
	s.LessOrEqual(n.Depth, MaxDepth-1)

	childDocs := 0
	for _, c := range n.Children {
		s.Equal(n.Depth+1, c.Depth)
		childDocs += c.Metrics.DocCount
		s.checkInvariants(c)
	}
	s.GreaterOrEqual(n.Metrics.DocCount, childDocs,
		"doc_count(parent) must be >= sum over children")
}

func (s *BuilderSuite) TestPartitionsByDomain() {
	groups := []GroupInfo{
		group("github.com", 3, 100, "golang", "compilers"),
		group("github.com", 1, 200, "golang", "testing"),
		group("arxiv.org", 2, 300, "ml", "papers"),
	}
	root := s.builder.Build(groups)

	s.Equal(RootLabel, root.Label)
	s.Len(root.Children, 2)
	labels := []string{root.Children[0].Label, root.Children[1].Label}
	s.Contains(labels, "github.com")
	s.Contains(labels, "arxiv.org")
	s.Len(collectGroupIDs(root), 3)
	s.checkInvariants(root)
}

func (s *BuilderSuite) TestGroupsWithoutDomainCollectUnderUnlabeled() {
	groups := []GroupInfo{
		group("", 1, 100, "misc"),
		group("example.com", 1, 100, "stuff"),
	}
	root := s.builder.Build(groups)

	var unlabeled *Node
	for _, c := range root.Children {
		if c.Label == UnlabeledLabel {
			unlabeled = c
		}
	}
	s.Require().NotNil(unlabeled)
	s.Equal(1, unlabeled.Metrics.DupGroupCount)
}

func (s *BuilderSuite) TestRollupMetrics() {
	groups := []GroupInfo{
		group("news.site", 4, 500, "politics"), // 4 docs in one group
		group("news.site", 1, 900, "economy"),  // singleton
	}
	root := s.builder.Build(groups)

	s.Equal(5, root.Metrics.DocCount)
	s.Equal(2, root.Metrics.DupGroupCount)
	s.InDelta(1-2.0/5.0, root.Metrics.DuplicationRate, 1e-9)
	s.Equal(int64(900), root.Metrics.RecencyEpoch)
	s.checkInvariants(root)
}

func (s *BuilderSuite) TestTagSubClustersSplitDomainBucket() {
	groups := []GroupInfo{
		group("blog.dev", 1, 1, "golang", "concurrency", "channels"),
		group("blog.dev", 1, 2, "golang", "concurrency", "mutex"),
		group("blog.dev", 1, 3, "cooking", "recipes", "pasta"),
		group("blog.dev", 1, 4, "cooking", "recipes", "bread"),
	}
	root := s.builder.Build(groups)

	s.Require().Len(root.Children, 1)
	domainNode := root.Children[0]
	s.Len(domainNode.Children, 2, "expected two tag sub-clusters")
	for _, sub := range domainNode.Children {
		s.Equal(2, sub.Metrics.DupGroupCount)
		s.NotEmpty(sub.Label)
	}
	s.checkInvariants(root)
}

func (s *BuilderSuite) TestFanoutIsBounded() {
	builder := NewBuilder(Config{MaxFanout: 2, JaccardThreshold: 0.9})
	var groups []GroupInfo
	// Ten groups with disjoint tag sets would want ten sub-clusters.
	tagPairs := [][]string{
		{"a1", "a2"}, {"b1", "b2"}, {"c1", "c2"}, {"d1", "d2"}, {"e1", "e2"},
		{"f1", "f2"}, {"g1", "g2"}, {"h1", "h2"}, {"i1", "i2"}, {"j1", "j2"},
	}
	for i, tags := range tagPairs {
		groups = append(groups, group("one.site", 1, int64(i), tags...))
	}
	root := builder.Build(groups)

	s.Require().Len(root.Children, 1)
	s.LessOrEqual(len(root.Children[0].Children), 2)
	s.Len(collectGroupIDs(root), 10, "every group stays referenced")
	s.checkInvariants(root)
}

func (s *BuilderSuite) TestDepthNeverExceedsCap() {
	var groups []GroupInfo
	for i := 0; i < 30; i++ {
		groups = append(groups, group("deep.site", i%4+1, int64(i), "t1", "t2", "t3"))
	}
	root := s.builder.Build(groups)
	s.checkInvariants(root)
}

func (s *BuilderSuite) TestEmptyCorpusYieldsBareRoot() {
	root := s.builder.Build(nil)
	s.Equal(RootLabel, root.Label)
	s.Empty(root.Children)
	s.Zero(root.Metrics.DocCount)
}
