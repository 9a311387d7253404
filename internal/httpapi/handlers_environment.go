package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ironlayer/ironlayer/internal/environment"
)

type environmentResponse struct {
	Name         string     `json:"name"`
	Catalog      string     `json:"catalog"`
	SchemaPrefix string     `json:"schema_prefix"`
	IsDefault    bool       `json:"is_default"`
	IsProduction bool       `json:"is_production"`
	IsEphemeral  bool       `json:"is_ephemeral"`
	PRNumber     *int       `json:"pr_number,omitempty"`
	BranchName   string     `json:"branch_name,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedBy    string     `json:"created_by"`
}

type promotionResponse struct {
	ID                string    `json:"id"`
	SourceEnvironment string    `json:"source_environment"`
	TargetEnvironment string    `json:"target_environment"`
	SourceSnapshotID  string    `json:"source_snapshot_id"`
	TargetSnapshotID  string    `json:"target_snapshot_id"`
	PromotedBy        string    `json:"promoted_by"`
	PromotedAt        time.Time `json:"promoted_at"`
}

// environmentsConfigured rejects every environment request with 501 when no
// environment.Service was wired at boot.
func (s *Server) environmentsConfigured(w http.ResponseWriter) bool {
	if s.envSvc == nil {
		writeError(w, http.StatusNotImplemented, "environments are not configured on this deployment")
		return false
	}
	return true
}

func envToResponse(e environment.Environment) environmentResponse {
	return environmentResponse{
		Name: e.Name, Catalog: e.Catalog, SchemaPrefix: e.SchemaPrefix,
		IsDefault: e.IsDefault, IsProduction: e.IsProduction, IsEphemeral: e.IsEphemeral,
		PRNumber: e.PRNumber, BranchName: e.BranchName, ExpiresAt: e.ExpiresAt, CreatedBy: e.CreatedBy,
	}
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	envs, err := s.envSvc.ListEnvironments(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list environments")
		return
	}
	resp := make([]environmentResponse, 0, len(envs))
	for _, e := range envs {
		resp = append(resp, envToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

type createEnvironmentRequest struct {
	Name         string `json:"name"`
	Catalog      string `json:"catalog"`
	SchemaPrefix string `json:"schema_prefix"`
	IsProduction bool   `json:"is_production"`
}

func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Catalog == "" || req.SchemaPrefix == "" {
		writeError(w, http.StatusBadRequest, "name, catalog, and schema_prefix are required")
		return
	}
	env, err := s.envSvc.CreateEnvironment(r.Context(), claims.TenantID, req.Name, req.Catalog, req.SchemaPrefix, req.IsProduction, claims.Sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create environment")
		return
	}
	writeJSON(w, http.StatusCreated, envToResponse(env))
}

type createEphemeralEnvironmentRequest struct {
	PRNumber     int    `json:"pr_number"`
	BranchName   string `json:"branch_name"`
	Catalog      string `json:"catalog"`
	SchemaPrefix string `json:"schema_prefix"`
	TTLHours     int    `json:"ttl_hours"`
}

func (s *Server) handleCreateEphemeralEnvironment(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createEphemeralEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PRNumber == 0 || req.BranchName == "" || req.Catalog == "" || req.SchemaPrefix == "" {
		writeError(w, http.StatusBadRequest, "pr_number, branch_name, catalog, and schema_prefix are required")
		return
	}
	env, err := s.envSvc.CreateEphemeralEnvironment(r.Context(), claims.TenantID, req.PRNumber, req.BranchName, req.Catalog, req.SchemaPrefix, claims.Sub, req.TTLHours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create ephemeral environment")
		return
	}
	writeJSON(w, http.StatusCreated, envToResponse(env))
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	name := r.PathValue("name")
	env, found, err := s.envSvc.GetEnvironment(r.Context(), claims.TenantID, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get environment")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "environment not found")
		return
	}
	writeJSON(w, http.StatusOK, envToResponse(env))
}

func (s *Server) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	name := r.PathValue("name")
	deleted, err := s.envSvc.DeleteEnvironment(r.Context(), claims.TenantID, name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete environment")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "environment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanupEnvironments(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	result, err := s.envSvc.CleanupExpired(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clean up environments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted_count": result.DeletedCount})
}

type promoteEnvironmentRequest struct {
	SourceName       string            `json:"source_name"`
	TargetName       string            `json:"target_name"`
	SourceSnapshotID string            `json:"snapshot_id"`
	ModelVersions    map[string]string `json:"model_versions"`
}

func (s *Server) handlePromoteEnvironment(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req promoteEnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceName == "" || req.TargetName == "" || req.SourceSnapshotID == "" {
		writeError(w, http.StatusBadRequest, "source_name, target_name, and snapshot_id are required")
		return
	}
	promo, err := s.envSvc.Promote(r.Context(), claims.TenantID, req.SourceName, req.TargetName, req.SourceSnapshotID, req.ModelVersions, claims.Sub)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, promotionResponse{
		ID: promo.ID, SourceEnvironment: promo.SourceEnvironment, TargetEnvironment: promo.TargetEnvironment,
		SourceSnapshotID: promo.SourceSnapshotID, TargetSnapshotID: promo.TargetSnapshotID,
		PromotedBy: promo.PromotedBy, PromotedAt: promo.PromotedAt,
	})
}

func (s *Server) handlePromotionHistory(w http.ResponseWriter, r *http.Request) {
	if !s.environmentsConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	environmentName := r.URL.Query().Get("environment")
	limit := queryInt(r, "limit", 0)
	promotions, err := s.envSvc.PromotionHistory(r.Context(), claims.TenantID, environmentName, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get promotion history")
		return
	}
	resp := make([]promotionResponse, 0, len(promotions))
	for _, p := range promotions {
		resp = append(resp, promotionResponse{
			ID: p.ID, SourceEnvironment: p.SourceEnvironment, TargetEnvironment: p.TargetEnvironment,
			SourceSnapshotID: p.SourceSnapshotID, TargetSnapshotID: p.TargetSnapshotID,
			PromotedBy: p.PromotedBy, PromotedAt: p.PromotedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
