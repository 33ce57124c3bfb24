package topic

import (
	"sort"

	"github.com/google/uuid"

	"github.com/goodpocket/curator/internal/label"
	"github.com/goodpocket/curator/pkg/models"
)

// indexGroups builds an id lookup for metric rollup.
func indexGroups(groups []GroupInfo) map[uuid.UUID]GroupInfo {
	idx := make(map[uuid.UUID]GroupInfo, len(groups))
	for _, g := range groups {
		idx[g.ID] = g
	}
	return idx
}

// rollup recomputes a node's metrics from its own group ids plus all children,
// bottom-up. doc_count sums member group sizes, so a parent's doc_count is
// always >= the sum over its children.
func rollup(n *Node, groups map[uuid.UUID]GroupInfo) models.TopicMetrics {
	var m models.TopicMetrics
	tagWeights := make(map[string]float64)

	accumulate := func(g GroupInfo) {
		m.DocCount += g.Size
		m.DupGroupCount++
		if g.UpdatedEpoch > m.RecencyEpoch {
			m.RecencyEpoch = g.UpdatedEpoch
		}
		for _, tw := range g.Tags {
			if tw.Label != label.NoAutoTags {
				tagWeights[tw.Label] += tw.Weight
			}
		}
	}

	for _, id := range n.GroupIDs {
		if g, ok := groups[id]; ok {
			accumulate(g)
		}
	}
	for _, child := range n.Children {
		cm := rollup(child, groups)
		m.DocCount += cm.DocCount
		m.DupGroupCount += cm.DupGroupCount
		if cm.RecencyEpoch > m.RecencyEpoch {
			m.RecencyEpoch = cm.RecencyEpoch
		}
		for _, tag := range cm.TopTags {
			tagWeights[tag] += 1 // child top tags keep a voice in the parent
		}
	}

	if m.DocCount > 0 {
		m.DuplicationRate = 1 - float64(m.DupGroupCount)/float64(m.DocCount)
	}
	m.TopTags = topWeighted(tagWeights, DefaultTopTags)
	n.Metrics = m
	return m
}

// topWeighted returns the heaviest tags, ties alphabetical.
func topWeighted(weights map[string]float64, k int) []string {
	if len(weights) == 0 {
		return nil
	}
	tags := make([]string, 0, len(weights))
	for tag := range weights {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if weights[tags[i]] != weights[tags[j]] {
			return weights[tags[i]] > weights[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > k {
		tags = tags[:k]
	}
	return tags
}

// topTagSet keeps the k heaviest tag labels of a group as a set.
func topTagSet(tags []models.TagWeight, k int) map[string]bool {
	if len(tags) == 0 {
		return nil
	}
	sorted := make([]models.TagWeight, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight != sorted[j].Weight {
			return sorted[i].Weight > sorted[j].Weight
		}
		return sorted[i].Label < sorted[j].Label
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	set := make(map[string]bool, len(sorted))
	for _, tw := range sorted {
		if tw.Label != "" && tw.Label != label.NoAutoTags {
			set[tw.Label] = true
		}
	}
	return set
}

// jaccard is the similarity between two tag sets: |A∩B| / |A∪B|.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tag := range a {
		if b[tag] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
