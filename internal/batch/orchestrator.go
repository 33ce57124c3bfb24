// Package batch drives the end-to-end indexing pipeline: fingerprinting,
// duplicate grouping, tagging, embedding, clustering, topic building, and
// the atomic snapshot publish. One run covers one owner.
package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goodpocket/curator/internal/cluster"
	"github.com/goodpocket/curator/internal/db"
	"github.com/goodpocket/curator/internal/dedup"
	"github.com/goodpocket/curator/internal/embedding"
	"github.com/goodpocket/curator/internal/fingerprint"
	"github.com/goodpocket/curator/internal/label"
	"github.com/goodpocket/curator/internal/observability"
	"github.com/goodpocket/curator/internal/topic"
	"github.com/goodpocket/curator/internal/urls"
	"github.com/goodpocket/curator/pkg/models"
)

// ErrRunInProgress is reported when a trigger races a running batch for the
// same owner. The caller treats it as a no-op.
var ErrRunInProgress = db.ErrRunInProgress

// DefaultChunkSize is the number of bookmarks processed per checkpoint.
const DefaultChunkSize = 50

// maxExcerpt caps the stored text excerpt.
const maxExcerpt = 1000

// Config tunes the orchestrator. Zero values select the defaults.
type Config struct {
	ChunkSize int
	MaxTags   int
	LabelTopK int
	Cluster   cluster.Config
	Topic     topic.Config
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxTags <= 0 {
		c.MaxTags = label.DefaultMaxTags
	}
	if c.LabelTopK <= 0 {
		c.LabelTopK = label.DefaultTopK
	}
	return c
}

// Notifier receives run lifecycle events. Implementations must not block;
// the orchestrator calls them inline between chunks.
type Notifier interface {
	RunEvent(owner uuid.UUID, event string, run *db.BatchRun)
}

// Run lifecycle event names.
const (
	EventRunStarted  = "run_started"
	EventRunProgress = "run_progress"
	EventRunFinished = "run_finished"
)

// Stores bundles the persistence surfaces the orchestrator writes through.
type Stores struct {
	Bookmarks *db.BookmarkStore
	Groups    *db.DupGroupStore
	Tags      *db.TagStore
	Runs      *db.BatchRunStore
	Snapshots *db.SnapshotStore
}

// NewStores wires the entity stores over one connection.
func NewStores(store *db.Store) Stores {
	return Stores{
		Bookmarks: db.NewBookmarkStore(store),
		Groups:    db.NewDupGroupStore(store),
		Tags:      db.NewTagStore(store),
		Runs:      db.NewBatchRunStore(store),
		Snapshots: db.NewSnapshotStore(store),
	}
}

// Orchestrator runs the pipeline for one owner at a time per owner.
type Orchestrator struct {
	cfg      Config
	stores   Stores
	grouper  *dedup.Grouper
	embedder *embedding.Adapter
	engine   *cluster.Engine
	builder  *topic.Builder
	log      zerolog.Logger
	metrics  observability.Pipeline
	notifier Notifier

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// SetNotifier registers a sink for run lifecycle events. Must be called
// before the first run.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

func (o *Orchestrator) notify(owner uuid.UUID, event string, run *db.BatchRun) {
	if o.notifier != nil {
		o.notifier.RunEvent(owner, event, run)
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, stores Stores, embedder *embedding.Adapter, log zerolog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:      cfg,
		stores:   stores,
		grouper:  dedup.NewGrouper(stores.Groups),
		embedder: embedder,
		engine:   cluster.NewEngine(cfg.Cluster),
		builder:  topic.NewBuilder(cfg.Topic),
		log:      log.With().Str("component", "batch").Logger(),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func (o *Orchestrator) ownerLock(owner uuid.UUID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[owner]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[owner] = lock
	}
	return lock
}

// Run executes one full pipeline pass for the owner. At most one run per
// owner may be in flight; a concurrent trigger reports ErrRunInProgress.
// A failed run keeps its checkpoint and the next Run resumes after it.
func (o *Orchestrator) Run(ctx context.Context, owner uuid.UUID) (*db.BatchRun, error) {
	lock := o.ownerLock(owner)
	if !lock.TryLock() {
		return nil, ErrRunInProgress
	}
	defer lock.Unlock()

	run, err := o.stores.Runs.Begin(ctx, owner)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, owner, run)
}

// Trigger begins a run and executes it in the background. The returned run
// is in the running state; callers poll it by id.
func (o *Orchestrator) Trigger(ctx context.Context, owner uuid.UUID) (*db.BatchRun, error) {
	lock := o.ownerLock(owner)
	if !lock.TryLock() {
		return nil, ErrRunInProgress
	}
	run, err := o.stores.Runs.Begin(ctx, owner)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	go func() {
		defer lock.Unlock()
		// The trigger request's context ends with the response; the run
		// must not. Outcome is recorded on the run row.
		_, _ = o.execute(context.WithoutCancel(ctx), owner, run)
	}()
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, owner uuid.UUID, run *db.BatchRun) (*db.BatchRun, error) {
	log := o.log.With().Stringer("owner", owner).Stringer("run", run.ID).Logger()
	o.notify(owner, EventRunStarted, run)
	if !run.Checkpoint.Zero() {
		log.Info().Int("chunk", run.Checkpoint.Chunk).Msg("resuming from checkpoint")
	}

	if err := o.processChunks(ctx, owner, run, log); err != nil {
		return o.fail(ctx, run, err, log)
	}
	if err := o.publish(ctx, owner, run, log); err != nil {
		return o.fail(ctx, run, err, log)
	}

	if err := o.stores.Runs.Finish(ctx, run.ID, models.RunStatusSucceeded, nil); err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	o.metrics.RunFinished(ctx, string(models.RunStatusSucceeded))
	log.Info().Int("processed", run.Processed).Int("embedded", run.Embedded).
		Int("failed", run.Failed).Msg("batch run succeeded")
	final, err := o.stores.Runs.Get(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	o.notify(owner, EventRunFinished, final)
	return final, nil
}

func (o *Orchestrator) fail(ctx context.Context, run *db.BatchRun, cause error, log zerolog.Logger) (*db.BatchRun, error) {
	// Finish with a fresh context: the run's own context may be the reason
	// we are here.
	finishCtx := context.WithoutCancel(ctx)
	if err := o.stores.Runs.Finish(finishCtx, run.ID, models.RunStatusFailed, cause); err != nil {
		log.Error().Err(err).Msg("recording run failure")
	}
	o.metrics.RunFinished(finishCtx, string(models.RunStatusFailed))
	log.Warn().Err(cause).Msg("batch run failed")
	if final, err := o.stores.Runs.Get(finishCtx, run.ID); err == nil {
		o.notify(run.OwnerID, EventRunFinished, final)
	}
	return nil, cause
}

// processChunks walks the owner's pending bookmarks in stable order,
// persisting a checkpoint after every fully processed chunk. Cancellation is
// honored only between chunks so a chunk's writes are never half-applied
// without a covering checkpoint.
func (o *Orchestrator) processChunks(ctx context.Context, owner uuid.UUID, run *db.BatchRun, log zerolog.Logger) error {
	cp := run.Checkpoint
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := o.stores.Bookmarks.PendingChunk(ctx, owner, cp, o.cfg.ChunkSize)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}

		embedded, failed, err := o.processChunk(ctx, owner, chunk)
		if err != nil {
			return err
		}
		run.Processed += len(chunk)
		run.Embedded += embedded
		run.Failed += failed
		o.metrics.BookmarksProcessed(ctx, len(chunk))
		o.metrics.EmbeddingsComputed(ctx, embedded)
		o.metrics.EmbeddingFailures(ctx, failed)

		last := chunk[len(chunk)-1]
		cp = models.Checkpoint{CursorEpoch: last.CreatedAtEpoch, CursorID: last.ID, Chunk: cp.Chunk + 1}
		if err := o.stores.Runs.SaveProgress(ctx, run.ID, cp, run.Processed, run.Embedded, run.Failed); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		run.Checkpoint = cp
		o.notify(owner, EventRunProgress, run)
		log.Debug().Int("chunk", cp.Chunk).Int("size", len(chunk)).Msg("chunk persisted")
	}
}

// processChunk fingerprints, groups, tags, and embeds one chunk. Every step
// is idempotent, so a chunk replayed after a crash lands in the same state.
func (o *Orchestrator) processChunk(ctx context.Context, owner uuid.UUID, chunk []db.Bookmark) (embedded, failed int, err error) {
	for i := range chunk {
		b := &chunk[i]
		fp, err := o.fingerprintBookmark(ctx, b)
		if err != nil {
			return 0, 0, err
		}
		if _, err := o.grouper.Assign(ctx, owner, b.ID, fp, true); err != nil {
			return 0, 0, err
		}
		tags := label.ExtractTags(b.Title, b.TextExcerpt, o.cfg.MaxTags)
		if len(tags) == 0 {
			tags = []string{label.NoAutoTags}
		}
		if err := o.stores.Tags.ReplaceTags(ctx, owner, b.ID, tags); err != nil {
			return 0, 0, err
		}
	}

	texts := make([]string, len(chunk))
	for i := range chunk {
		b := &chunk[i]
		weights, err := o.stores.Tags.TagsFor(ctx, b.ID)
		if err != nil {
			return 0, 0, err
		}
		texts[i] = o.embedder.Truncate(embedding.BuildText(b.Title, realTags(weights), b.TextExcerpt))
	}

	vectors, err := o.embedder.EmbedTexts(ctx, texts)
	switch {
	case err == nil:
		for i := range chunk {
			// A nil vector is a per-bookmark permanent failure; it must
			// never be stored as embedded or it poisons later clustering.
			if vectors[i] == nil {
				if err := o.stores.Bookmarks.MarkFailed(ctx, chunk[i].ID); err != nil {
					return 0, 0, err
				}
				failed++
				continue
			}
			if err := o.stores.Bookmarks.MarkEmbedded(ctx, chunk[i].ID, vectors[i]); err != nil {
				return 0, 0, err
			}
			embedded++
		}
		return embedded, failed, nil
	case embedding.IsTransient(err):
		// Leave the chunk pending and fail the run; the checkpoint still
		// points before this chunk, so a resumed run retries it.
		return 0, 0, fmt.Errorf("embed chunk: %w", err)
	default:
		for i := range chunk {
			if err := o.stores.Bookmarks.MarkFailed(ctx, chunk[i].ID); err != nil {
				return 0, 0, err
			}
		}
		return 0, len(chunk), nil
	}
}

// fingerprintBookmark computes and persists the fingerprint, domain, and
// trimmed excerpt on first sight; replays reuse the stored value.
func (o *Orchestrator) fingerprintBookmark(ctx context.Context, b *db.Bookmark) (uint64, error) {
	if b.Simhash.Valid {
		return fingerprint.FromSigned(b.Simhash.Int64), nil
	}
	fp := fingerprint.ComputeWithFallback(b.TextExcerpt, urls.Canonicalize(b.URL), b.Title)
	domain := urls.Domain(b.URL)
	excerpt := trimExcerpt(b.TextExcerpt)
	if err := o.stores.Bookmarks.SetFingerprint(ctx, b.ID, fingerprint.ToSigned(fp), domain, excerpt); err != nil {
		return 0, fmt.Errorf("store fingerprint: %w", err)
	}
	b.Simhash = sql.NullInt64{Int64: fingerprint.ToSigned(fp), Valid: true}
	b.Domain = domain
	b.TextExcerpt = excerpt
	return fp, nil
}

// publish clusters the embedded corpus, builds the topic tree, and flips the
// owner's snapshot version.
func (o *Orchestrator) publish(ctx context.Context, owner uuid.UUID, run *db.BatchRun, log zerolog.Logger) error {
	snap, err := o.buildSnapshot(ctx, owner, run.StartedAtEpoch, log)
	if err != nil {
		return err
	}
	version, err := o.stores.Snapshots.Publish(ctx, owner, *snap)
	if err != nil {
		return err
	}
	o.metrics.SnapshotPublished(ctx)
	log.Info().Int64("version", version).
		Int("clusters", len(snap.Summaries)).
		Int("topics", len(snap.Topics)).
		Msg("snapshot published")
	return nil
}

func (o *Orchestrator) buildSnapshot(ctx context.Context, owner uuid.UUID, seed int64, log zerolog.Logger) (*db.Snapshot, error) {
	embeddedBookmarks, err := o.stores.Bookmarks.EmbeddedByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	result, err := o.clusterCorpus(ctx, owner, embeddedBookmarks, seed, log)
	if err != nil {
		return nil, err
	}

	labels, err := o.clusterLabels(ctx, result)
	if err != nil {
		return nil, err
	}

	snap := &db.Snapshot{}
	for _, b := range embeddedBookmarks {
		id := b.ID
		clusterID, ok := result.Labels[id]
		if !ok {
			clusterID = cluster.Noise
		}
		snap.Assignments = append(snap.Assignments, db.ClusterAssignment{
			BookmarkID: id,
			ClusterID:  clusterID,
			Label:      labels[clusterID],
		})
	}
	clusterIDs := make([]int, 0, len(result.Sizes))
	for id := range result.Sizes {
		if id != cluster.Noise {
			clusterIDs = append(clusterIDs, id)
		}
	}
	sort.Ints(clusterIDs)
	for _, id := range clusterIDs {
		snap.Summaries = append(snap.Summaries, db.ClusterSummary{
			ClusterID: id,
			Label:     labels[id],
			Size:      result.Sizes[id],
		})
	}

	topics, err := o.buildTopics(ctx, owner)
	if err != nil {
		return nil, err
	}
	snap.Topics = topics
	return snap, nil
}

// clusterCorpus clusters at full fidelity and degrades to representatives
// when the corpus exceeds the full-fidelity bound.
func (o *Orchestrator) clusterCorpus(ctx context.Context, owner uuid.UUID, embeddedBookmarks []db.Bookmark, seed int64, log zerolog.Logger) (*cluster.Result, error) {
	points := make([]cluster.Point, 0, len(embeddedBookmarks))
	byID := make(map[uuid.UUID]*db.Bookmark, len(embeddedBookmarks))
	for i := range embeddedBookmarks {
		b := &embeddedBookmarks[i]
		byID[b.ID] = b
		points = append(points, cluster.Point{ID: b.ID, Vector: b.Embedding})
	}

	result, err := o.engine.Cluster(points, cluster.ModeFull, seed)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, cluster.ErrResourceExceeded) {
		return nil, err
	}

	log.Info().Int("corpus", len(points)).Msg("corpus over full-fidelity bound, clustering representatives")
	memberships, err := o.stores.Groups.MembershipsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	digests, err := o.stores.Groups.DigestsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	repByGroup := make(map[uuid.UUID]uuid.UUID, len(digests))
	for _, d := range digests {
		repByGroup[d.Group.ID] = d.Group.RepresentativeID
	}
	repOf := make(map[uuid.UUID]uuid.UUID, len(memberships))
	for member, groupID := range memberships {
		if rep, ok := repByGroup[groupID]; ok {
			repOf[member] = rep
		}
	}

	repPoints := make([]cluster.Point, 0, len(digests))
	for _, d := range digests {
		if rep, ok := byID[d.Group.RepresentativeID]; ok {
			repPoints = append(repPoints, cluster.Point{ID: rep.ID, Vector: rep.Embedding})
		}
	}
	result, err = o.engine.Cluster(repPoints, cluster.ModeRepresentatives, seed)
	if err != nil {
		return nil, err
	}
	result.Inherit(repOf)
	return result, nil
}

// clusterLabels generates a display label per cluster from the members'
// aggregated tag weights.
func (o *Orchestrator) clusterLabels(ctx context.Context, result *cluster.Result) (map[int]string, error) {
	members := make(map[int][]uuid.UUID)
	for id, clusterID := range result.Labels {
		if clusterID != cluster.Noise {
			members[clusterID] = append(members[clusterID], id)
		}
	}
	labels := make(map[int]string, len(members))
	for clusterID, ids := range members {
		weights, err := o.stores.Tags.WeightedTagsFor(ctx, ids)
		if err != nil {
			return nil, err
		}
		labels[clusterID] = label.Generate(tagWeightList(weights), o.cfg.LabelTopK)
	}
	return labels, nil
}

// buildTopics assembles the topic tree from the owner's duplicate groups and
// flattens it into snapshot rows.
func (o *Orchestrator) buildTopics(ctx context.Context, owner uuid.UUID) ([]db.TopicNode, error) {
	digests, err := o.stores.Groups.DigestsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	infos := make([]topic.GroupInfo, 0, len(digests))
	for _, d := range digests {
		infos = append(infos, topic.GroupInfo{
			ID:           d.Group.ID,
			Domain:       d.Domain,
			Tags:         tagWeightList(d.Tags),
			Size:         d.Size,
			UpdatedEpoch: d.Group.UpdatedAtEpoch,
		})
	}
	root := o.builder.Build(infos)
	return flattenTopics(root, nil), nil
}

func flattenTopics(node *topic.Node, parentID *uuid.UUID) []db.TopicNode {
	row := db.TopicNode{
		ID:       node.ID,
		Depth:    node.Depth,
		Label:    node.Label,
		GroupIDs: groupIDStrings(node.GroupIDs),
		Metrics:  node.Metrics,
	}
	if parentID != nil {
		row.ParentID = sql.NullString{String: parentID.String(), Valid: true}
	}
	out := []db.TopicNode{row}
	for _, child := range node.Children {
		out = append(out, flattenTopics(child, &node.ID)...)
	}
	return out
}

func groupIDStrings(ids []uuid.UUID) models.JSONStringArray {
	if len(ids) == 0 {
		return nil
	}
	out := make(models.JSONStringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// tagWeightList orders a weight map heaviest first with alphabetical ties,
// matching the label generator's expectations.
func tagWeightList(weights map[string]float64) []models.TagWeight {
	out := make([]models.TagWeight, 0, len(weights))
	for lbl, w := range weights {
		out = append(out, models.TagWeight{Label: lbl, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// realTags drops the no-auto-tags sentinel before the weights feed labels or
// embedding text.
func realTags(weights []models.TagWeight) []models.TagWeight {
	out := weights[:0:0]
	for _, tw := range weights {
		if tw.Label != label.NoAutoTags {
			out = append(out, tw)
		}
	}
	return out
}

func trimExcerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxExcerpt {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxExcerpt {
		return text
	}
	return string(runes[:maxExcerpt])
}
