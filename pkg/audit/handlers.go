package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// Searcher queries stored audit events
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// Handlers provides the audit trail query API. Callers mount it behind a
// super-admin guard.
type Handlers struct {
	store Searcher
}

// NewHandlers creates new audit handlers
func NewHandlers(store Searcher) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r)

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// parseFilter parses search filter from query parameters. Unparseable values
// are ignored.
func parseFilter(r *http.Request) SearchFilter {
	query := r.URL.Query()
	filter := SearchFilter{Limit: 100}

	if t, err := time.Parse(time.RFC3339, query.Get("start_time")); err == nil {
		filter.StartTime = &t
	}
	if t, err := time.Parse(time.RFC3339, query.Get("end_time")); err == nil {
		filter.EndTime = &t
	}

	if userID, err := strconv.ParseInt(query.Get("user_id"), 10, 64); err == nil {
		filter.UserID = &userID
	}
	if orgID, err := strconv.ParseInt(query.Get("organization_id"), 10, 64); err == nil {
		filter.OrganizationID = &orgID
	}

	for _, et := range strings.Split(query.Get("event_types"), ",") {
		if et = strings.TrimSpace(et); et != "" {
			filter.EventTypes = append(filter.EventTypes, EventType(et))
		}
	}

	if statusStr := query.Get("status"); statusStr != "" {
		status := EventStatus(statusStr)
		filter.Status = &status
	}

	filter.ResourceType = ResourceType(query.Get("resource_type"))
	filter.ResourceID = query.Get("resource_id")

	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}

	return filter
}
