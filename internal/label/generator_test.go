package label

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/goodpocket/curator/pkg/models"
)

func TestIsPlaceholder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"cluster with space", "Cluster 12", true},
		{"cluster lowercase", "cluster 7", true},
		{"cluster with underscore", "cluster_3", true},
		{"bare number", "42", true},
		{"padded number", "  42  ", true},
		{"real tag", "golang", false},
		{"tag with digits", "http2", false},
		{"multi tag label", "golang, databases", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsPlaceholder(tt.input))
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Run("orders by weight then alphabetically", func(t *testing.T) {
		tags := []models.TagWeight{
			{Label: "zig", Weight: 0.5},
			{Label: "go", Weight: 1.0},
			{Label: "rust", Weight: 0.5},
			{Label: "go", Weight: 0.5},
		}
		assert.Equal(t, "go, rust, zig", Generate(tags, 3))
	})

	t.Run("caps at topK", func(t *testing.T) {
		tags := []models.TagWeight{
			{Label: "a", Weight: 5},
			{Label: "b", Weight: 4},
			{Label: "c", Weight: 3},
			{Label: "d", Weight: 2},
		}
		assert.Equal(t, "a, b", Generate(tags, 2))
	})

	t.Run("placeholder candidate replaced with empty label", func(t *testing.T) {
		assert.Equal(t, "", Generate([]models.TagWeight{{Label: "Cluster 12", Weight: 1}}, 5))
		assert.Equal(t, "", Generate([]models.TagWeight{{Label: "12", Weight: 1}}, 5))
	})

	t.Run("sentinel and empty tags ignored", func(t *testing.T) {
		tags := []models.TagWeight{
			{Label: "__no_auto_tags__", Weight: 9},
			{Label: "  ", Weight: 9},
			{Label: "search", Weight: 1},
		}
		assert.Equal(t, "search", Generate(tags, 5))
	})

	t.Run("no usable tags yields empty label", func(t *testing.T) {
		assert.Equal(t, "", Generate(nil, 5))
	})
}
