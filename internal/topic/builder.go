// Package topic aggregates duplicate groups into a bounded-depth topic tree.
// Level 1 partitions groups by dominant domain; level 2 sub-clusters each
// domain bucket by tag-set similarity. Every node carries rollup metrics
// recomputed bottom-up on each rebuild.
package topic

import (
	"sort"

	"github.com/google/uuid"

	"github.com/goodpocket/curator/internal/label"
	"github.com/goodpocket/curator/pkg/models"
)

const (
	// RootLabel names the reserved root node.
	RootLabel = "all"
	// UnlabeledLabel collects groups without a dominant domain.
	UnlabeledLabel = "unlabeled"
	// MaxDepth bounds the tree: root (0), domain (1), tag sub-cluster (2).
	MaxDepth = 3
)

// GroupInfo is a duplicate group as seen by the builder.
type GroupInfo struct {
	ID           uuid.UUID
	Domain       string
	Tags         []models.TagWeight
	Size         int
	UpdatedEpoch int64
}

// Node is one topic tree node. Leaves reference duplicate-group ids.
type Node struct {
	ID       uuid.UUID
	Label    string
	Depth    int
	GroupIDs []uuid.UUID
	Metrics  models.TopicMetrics
	Children []*Node
}

// Config tunes the builder. Zero values select the defaults.
type Config struct {
	// MaxFanout bounds the level-2 sub-clusters per domain node.
	MaxFanout int
	// JaccardThreshold is the tag-set similarity needed to join a sub-cluster.
	JaccardThreshold float64
	// TopTags is the number of tags kept in node metrics and labels.
	TopTags int
}

const (
	DefaultMaxFanout        = 8
	DefaultJaccardThreshold = 0.3
	DefaultTopTags          = 5
)

func (c Config) withDefaults() Config {
	if c.MaxFanout <= 0 {
		c.MaxFanout = DefaultMaxFanout
	}
	if c.JaccardThreshold <= 0 {
		c.JaccardThreshold = DefaultJaccardThreshold
	}
	if c.TopTags <= 0 {
		c.TopTags = DefaultTopTags
	}
	return c
}

// Builder constructs topic trees.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder, filling config defaults.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg.withDefaults()}
}

// Build assembles the tree for one owner's duplicate groups. The tree is
// rooted, acyclic, and at most MaxDepth levels deep; every rebuild recomputes
// all metrics from the leaves up.
func (b *Builder) Build(groups []GroupInfo) *Node {
	root := &Node{ID: uuid.New(), Label: RootLabel, Depth: 0}

	// Stable input order: largest groups first, id as tiebreak.
	sorted := make([]GroupInfo, len(groups))
	copy(sorted, groups)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Size != sorted[j].Size {
			return sorted[i].Size > sorted[j].Size
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	byDomain := make(map[string][]GroupInfo)
	domains := make([]string, 0)
	for _, g := range sorted {
		domain := g.Domain
		if domain == "" {
			domain = UnlabeledLabel
		}
		if _, seen := byDomain[domain]; !seen {
			domains = append(domains, domain)
		}
		byDomain[domain] = append(byDomain[domain], g)
	}
	sort.Strings(domains)

	for _, domain := range domains {
		domainNode := &Node{ID: uuid.New(), Label: domain, Depth: 1}
		b.splitByTags(domainNode, byDomain[domain])
		root.Children = append(root.Children, domainNode)
	}

	rollup(root, indexGroups(groups))
	return root
}

// splitByTags sub-clusters a domain bucket by Jaccard similarity over top
// tags, bounded by MaxFanout. Groups that fit no sub-cluster once the fanout
// is exhausted join the most similar existing one; when nothing subdivides,
// the domain node holds the group ids directly.
func (b *Builder) splitByTags(parent *Node, groups []GroupInfo) {
	if len(groups) == 1 {
		parent.GroupIDs = []uuid.UUID{groups[0].ID}
		return
	}

	type subCluster struct {
		node    *Node
		tagSet  map[string]bool
		members []GroupInfo
	}
	var subs []*subCluster

	join := func(sc *subCluster, g GroupInfo, tags map[string]bool) {
		sc.members = append(sc.members, g)
		sc.node.GroupIDs = append(sc.node.GroupIDs, g.ID)
		for tag := range tags {
			sc.tagSet[tag] = true
		}
	}

	for _, g := range groups {
		tags := topTagSet(g.Tags, b.cfg.TopTags)
		if len(tags) == 0 {
			// No tag signal: keep on the domain node itself.
			parent.GroupIDs = append(parent.GroupIDs, g.ID)
			continue
		}

		bestIdx := -1
		bestSim := 0.0
		for i, sc := range subs {
			sim := jaccard(tags, sc.tagSet)
			if sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}

		switch {
		case bestIdx >= 0 && bestSim >= b.cfg.JaccardThreshold:
			join(subs[bestIdx], g, tags)
		case len(subs) < b.cfg.MaxFanout:
			sc := &subCluster{node: &Node{ID: uuid.New(), Depth: 2}, tagSet: tags}
			join(sc, g, tags)
			subs = append(subs, sc)
		case bestIdx >= 0:
			join(subs[bestIdx], g, tags)
		default:
			parent.GroupIDs = append(parent.GroupIDs, g.ID)
		}
	}

	if len(subs) == 1 && len(parent.GroupIDs) == 0 {
		// A single sub-cluster adds no structure; flatten it away.
		parent.GroupIDs = append(parent.GroupIDs, subs[0].node.GroupIDs...)
		return
	}

	for _, sc := range subs {
		var tags []models.TagWeight
		for _, g := range sc.members {
			tags = append(tags, g.Tags...)
		}
		sc.node.Label = label.Generate(tags, b.cfg.TopTags)
		parent.Children = append(parent.Children, sc.node)
	}
}
