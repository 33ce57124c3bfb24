package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/goodpocket/curator/internal/batch"
	"github.com/goodpocket/curator/internal/db"
	"github.com/goodpocket/curator/pkg/models"
)

// ownerHeader carries the caller's owner id on every /api request.
const ownerHeader = "X-Owner-ID"

// untitledLabel is shown when label generation produced nothing usable.
const untitledLabel = "untitled"

type ctxKey int

const ownerKey ctxKey = 0

// requireOwner rejects requests without a valid owner id.
func (s *Service) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := uuid.Parse(r.Header.Get(ownerHeader))
		if err != nil || owner == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing or malformed "+ownerHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

func ownerFrom(r *http.Request) uuid.UUID {
	owner, _ := r.Context().Value(ownerKey).(uuid.UUID)
	return owner
}

// handleTriggerRun starts a batch run for the owner. Responds 202 with the
// running run, or 409 when one is already in flight.
func (s *Service) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	run, err := s.orch.Trigger(r.Context(), owner)
	if errors.Is(err, batch.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "a batch run is already in progress")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Stringer("owner", owner).Msg("trigger failed")
		writeError(w, http.StatusInternalServerError, "could not start batch run")
		return
	}
	writeJSON(w, http.StatusAccepted, runResponse(run))
}

func (s *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed run id")
		return
	}
	run, err := s.stores.Runs.Get(r.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	if run.OwnerID != ownerFrom(r) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, total, err := s.stores.Runs.ListByOwner(r.Context(), ownerFrom(r), pageFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	items := make([]map[string]interface{}, 0, len(runs))
	for i := range runs {
		items = append(items, runResponse(&runs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": items, "total": total})
}

func runResponse(run *db.BatchRun) map[string]interface{} {
	out := map[string]interface{}{
		"id":               run.ID,
		"status":           run.Status,
		"processed":        run.Processed,
		"embedded":         run.Embedded,
		"failed":           run.Failed,
		"chunk":            run.Checkpoint.Chunk,
		"started_at_epoch": run.StartedAtEpoch,
	}
	if run.FinishedAtEpoch.Valid {
		out["finished_at_epoch"] = run.FinishedAtEpoch.Int64
	}
	if run.Error.Valid {
		out["error"] = run.Error.String
	}
	return out
}

// topicNodeResponse is one node of the nested topic tree payload.
type topicNodeResponse struct {
	ID       uuid.UUID            `json:"id"`
	Label    string               `json:"label"`
	Depth    int                  `json:"depth"`
	GroupIDs []string             `json:"group_ids,omitempty"`
	Metrics  models.TopicMetrics  `json:"metrics"`
	Children []*topicNodeResponse `json:"children,omitempty"`
}

// handleTopicTree returns the published topic hierarchy, nested.
func (s *Service) handleTopicTree(w http.ResponseWriter, r *http.Request) {
	rows, version, err := s.stores.Snapshots.TopicTree(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load topic tree")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": version,
		"root":    nestTopics(rows),
	})
}

// nestTopics rebuilds the tree from flat rows. Rows arrive shallowest first,
// so parents are always seen before their children.
func nestTopics(rows []db.TopicNode) *topicNodeResponse {
	byID := make(map[string]*topicNodeResponse, len(rows))
	var root *topicNodeResponse
	for _, row := range rows {
		node := &topicNodeResponse{
			ID:       row.ID,
			Label:    row.Label,
			Depth:    row.Depth,
			GroupIDs: row.GroupIDs,
			Metrics:  row.Metrics,
		}
		byID[row.ID.String()] = node
		if !row.ParentID.Valid {
			root = node
			continue
		}
		if parent, ok := byID[row.ParentID.String]; ok {
			parent.Children = append(parent.Children, node)
		}
	}
	return root
}

func (s *Service) handleListDupGroups(w http.ResponseWriter, r *http.Request) {
	groups, total, err := s.stores.Groups.ListByOwner(r.Context(), ownerFrom(r), intQuery(r, "min_size", 0), pageFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list duplicate groups")
		return
	}
	items := make([]map[string]interface{}, 0, len(groups))
	for _, g := range groups {
		items = append(items, map[string]interface{}{
			"id":                g.ID,
			"representative_id": g.RepresentativeID,
			"member_count":      g.MemberCount,
			"updated_at_epoch":  g.UpdatedAtEpoch,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": items, "total": total})
}

func (s *Service) handleGetDupGroup(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed group id")
		return
	}
	group, err := s.stores.Groups.Get(r.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load group")
		return
	}
	if group.OwnerID != ownerFrom(r) {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}

	members, total, err := s.stores.Groups.Members(r.Context(), id, pageFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load group members")
		return
	}
	memberItems := make([]map[string]interface{}, 0, len(members))
	for _, m := range members {
		memberItems = append(memberItems, map[string]interface{}{
			"id":    m.ID,
			"url":   m.URL,
			"title": m.Title,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                group.ID,
		"representative_id": group.RepresentativeID,
		"member_count":      group.MemberCount,
		"members":           memberItems,
		"total_members":     total,
	})
}

func (s *Service) handleListClusters(w http.ResponseWriter, r *http.Request) {
	summaries, total, version, err := s.stores.Snapshots.ClusterSummaries(r.Context(), ownerFrom(r), pageFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list clusters")
		return
	}
	items := make([]map[string]interface{}, 0, len(summaries))
	for _, c := range summaries {
		items = append(items, map[string]interface{}{
			"cluster_id": c.ClusterID,
			"label":      displayLabel(c.Label),
			"size":       c.Size,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":  version,
		"clusters": items,
		"total":    total,
	})
}

func (s *Service) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	clusterID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed cluster id")
		return
	}
	members, total, err := s.stores.Snapshots.ClusterMembers(r.Context(), ownerFrom(r), clusterID, pageFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load cluster")
		return
	}
	if total == 0 {
		writeError(w, http.StatusNotFound, "cluster not found")
		return
	}
	items := make([]map[string]interface{}, 0, len(members))
	label := ""
	for _, m := range members {
		items = append(items, map[string]interface{}{"bookmark_id": m.BookmarkID})
		label = m.Label
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cluster_id": clusterID,
		"label":      displayLabel(label),
		"members":    items,
		"total":      total,
	})
}

// handleEvents streams the owner's run lifecycle events over SSE.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.events.ServeHTTP(ownerFrom(r), w, r)
}

// RunEvent implements batch.Notifier: run lifecycle changes fan out to the
// owner's connected event streams.
func (s *Service) RunEvent(owner uuid.UUID, event string, run *db.BatchRun) {
	payload := runResponse(run)
	payload["type"] = event
	s.events.Broadcast(owner, payload)
}

// displayLabel substitutes the generic label when generation produced none.
func displayLabel(label string) string {
	if label == "" {
		return untitledLabel
	}
	return label
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
