// Package observability holds the process-wide metric instruments.
package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	initOnce sync.Once
	initErr  error

	bookmarksProcessed otelmetric.Int64Counter
	embeddingsComputed otelmetric.Int64Counter
	embeddingFailures  otelmetric.Int64Counter
	runsFinished       otelmetric.Int64Counter
	snapshotsPublished otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("curator")
	mk := func(name, desc string) otelmetric.Int64Counter {
		if initErr != nil {
			return nil
		}
		c, err := meter.Int64Counter(name, otelmetric.WithDescription(desc))
		if err != nil {
			initErr = err
		}
		return c
	}
	bookmarksProcessed = mk("bookmarks_processed_total", "Bookmarks pulled through the pipeline")
	embeddingsComputed = mk("embeddings_computed_total", "Embedding vectors stored")
	embeddingFailures = mk("embedding_failures_total", "Embedding calls that failed permanently")
	runsFinished = mk("batch_runs_finished_total", "Batch runs by final status")
	snapshotsPublished = mk("snapshots_published_total", "Snapshot versions published")
}

// Pipeline exposes the batch pipeline's counters. The zero value is usable;
// instruments are created lazily on first use and fall back to no-ops when
// no meter provider is installed.
type Pipeline struct{}

func counters() bool {
	initOnce.Do(initMetrics)
	return initErr == nil
}

// BookmarksProcessed records bookmarks pulled through one chunk.
func (Pipeline) BookmarksProcessed(ctx context.Context, n int) {
	if counters() {
		bookmarksProcessed.Add(ctx, int64(n))
	}
}

// EmbeddingsComputed records stored vectors.
func (Pipeline) EmbeddingsComputed(ctx context.Context, n int) {
	if counters() {
		embeddingsComputed.Add(ctx, int64(n))
	}
}

// EmbeddingFailures records permanently failed bookmarks.
func (Pipeline) EmbeddingFailures(ctx context.Context, n int) {
	if counters() {
		embeddingFailures.Add(ctx, int64(n))
	}
}

// RunFinished records a run's final status.
func (Pipeline) RunFinished(ctx context.Context, status string) {
	if counters() {
		runsFinished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	}
}

// SnapshotPublished records one published version.
func (Pipeline) SnapshotPublished(ctx context.Context) {
	if counters() {
		snapshotsPublished.Add(ctx, 1)
	}
}
