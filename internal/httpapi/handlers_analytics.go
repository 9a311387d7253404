package httpapi

import (
	"net/http"
	"strconv"
)

// queryInt parses an optional integer query parameter, returning def when
// absent or unparseable.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// analyticsConfigured rejects every analytics request with 501 when no
// analytics.Service was wired at boot (e.g. a test server built without
// Deps.AnalyticsSvc).
func (s *Server) analyticsConfigured(w http.ResponseWriter) bool {
	if s.analyticsSvc == nil {
		writeError(w, http.StatusNotImplemented, "analytics are not configured on this deployment")
		return false
	}
	return true
}

func (s *Server) handleAnalyticsOverview(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsConfigured(w) {
		return
	}
	days := queryInt(r, "days", 30)
	overview, err := s.analyticsSvc.Overview(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute overview")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleAnalyticsTenants(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsConfigured(w) {
		return
	}
	days := queryInt(r, "days", 30)
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	breakdown, err := s.analyticsSvc.TenantBreakdown(r.Context(), days, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute tenant breakdown")
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (s *Server) handleAnalyticsRevenue(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsConfigured(w) {
		return
	}
	revenue, err := s.analyticsSvc.Revenue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute revenue")
		return
	}
	writeJSON(w, http.StatusOK, revenue)
}

func (s *Server) handleAnalyticsCosts(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsConfigured(w) {
		return
	}
	days := queryInt(r, "days", 30)
	groupBy := r.URL.Query().Get("group_by")
	costs, err := s.analyticsSvc.CostBreakdown(r.Context(), days, groupBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute cost breakdown")
		return
	}
	writeJSON(w, http.StatusOK, costs)
}

func (s *Server) handleAnalyticsHealth(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsConfigured(w) {
		return
	}
	days := queryInt(r, "days", 30)
	health, err := s.analyticsSvc.Health(r.Context(), days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute health")
		return
	}
	writeJSON(w, http.StatusOK, health)
}
