// Package models contains shared domain types for curator.
package models

// BookmarkStatus tracks a bookmark's position in the indexing pipeline.
type BookmarkStatus string

const (
	BookmarkStatusPending  BookmarkStatus = "pending"
	BookmarkStatusEmbedded BookmarkStatus = "embedded"
	BookmarkStatusFailed   BookmarkStatus = "failed"
)

// TagWeight is a normalized tag label with its per-bookmark weight.
// Weights follow 1/(rank+1) over the generation order.
type TagWeight struct {
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}
