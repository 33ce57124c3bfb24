// Package label derives short display labels for clusters and duplicate
// groups from weighted tag frequencies.
package label

import (
	"regexp"
	"sort"
	"strings"

	"github.com/goodpocket/curator/pkg/models"
)

// DefaultTopK is the number of tags joined into a label.
const DefaultTopK = 5

// placeholderPattern matches auto-generated names that carry no semantic
// content: bare numbers and "Cluster 12"-style identifiers. Kept independent
// of the clustering code so it can be validated on its own.
var placeholderPattern = regexp.MustCompile(`^(?i:cluster)?[\s_-]*\d+$`)

// NoAutoTags marks bookmarks processed by tag generation that produced no
// tags, so they are not retried forever; it never contributes to labels.
const NoAutoTags = "__no_auto_tags__"

// IsPlaceholder reports whether a candidate label is an auto-generated
// placeholder rather than real content.
func IsPlaceholder(candidate string) bool {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return false
	}
	return placeholderPattern.MatchString(trimmed)
}

// Generate aggregates tag weights across members and joins the top-K tags
// into a label. Ties break alphabetically. Placeholder candidates are
// rejected and replaced with an empty label so callers substitute a generic
// display string instead of leaking an internal identifier.
func Generate(tags []models.TagWeight, topK int) string {
	if topK <= 0 {
		topK = DefaultTopK
	}

	weights := make(map[string]float64)
	for _, tw := range tags {
		lbl := strings.TrimSpace(tw.Label)
		if lbl == "" || lbl == NoAutoTags || IsPlaceholder(lbl) {
			continue
		}
		weights[lbl] += tw.Weight
	}
	if len(weights) == 0 {
		return ""
	}

	ranked := make([]string, 0, len(weights))
	for lbl := range weights {
		ranked = append(ranked, lbl)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if weights[ranked[i]] != weights[ranked[j]] {
			return weights[ranked[i]] > weights[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	candidate := strings.Join(ranked, ", ")
	if IsPlaceholder(candidate) {
		return ""
	}
	return candidate
}
