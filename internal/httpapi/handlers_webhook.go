package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ironlayer/ironlayer/internal/repository"
	"github.com/ironlayer/ironlayer/internal/webhook"
	"go.uber.org/zap"
)

// handleGithubPush is the inbound receiver for §4.18's push-event webhook.
// It is unauthenticated at the bearer-token layer (listed in publicPaths)
// because the caller is GitHub, not an IronLayer principal; authenticity is
// instead established by the HMAC signature in X-Hub-Signature-256, which
// is checked against the raw body. The body is JSON-decoded first only to
// find the repository and branch whose stored secret verifies it; nothing
// else is done with the payload until the signature passes.
func (s *Server) handleGithubPush(w http.ResponseWriter, r *http.Request) {
	if s.webhookSvc == nil {
		writeError(w, http.StatusNotImplemented, "webhooks are not configured on this deployment")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	var evt webhook.PushEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if !s.webhookSvc.VerifySignature(r.Context(), evt.RepoURL(), evt.BranchName(), body, signature) {
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	result, err := s.webhookSvc.HandlePush(r.Context(), evt)
	if err != nil {
		s.logger.Error("webhook: push handling failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "push handling failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type webhookConfigResponse struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	RepoURL   string `json:"repo_url"`
	Branch    string `json:"branch"`
	AutoPlan  bool   `json:"auto_plan"`
	AutoApply bool   `json:"auto_apply"`
}

// webhooksConfigured rejects every config-CRUD request with 501 when no
// IRONLAYER_WEBHOOK_SECRET_KEY was configured at boot, mirroring
// handleGithubPush's guard on the same nil Service.
func (s *Server) webhooksConfigured(w http.ResponseWriter) bool {
	if s.webhookSvc == nil {
		writeError(w, http.StatusNotImplemented, "webhooks are not configured on this deployment")
		return false
	}
	return true
}

func (s *Server) handleListWebhookConfigs(w http.ResponseWriter, r *http.Request) {
	if !s.webhooksConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	configs, err := s.webhookSvc.ListConfigs(r.Context(), claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhook configs")
		return
	}
	resp := make([]webhookConfigResponse, 0, len(configs))
	for _, c := range configs {
		resp = append(resp, webhookConfigResponse{
			ID: c.ID, Provider: c.Provider, RepoURL: c.RepoURL, Branch: c.Branch,
			AutoPlan: c.AutoPlan, AutoApply: c.AutoApply,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createWebhookConfigRequest struct {
	RepoURL   string `json:"repo_url"`
	Branch    string `json:"branch"`
	Secret    string `json:"secret"`
	AutoPlan  *bool  `json:"auto_plan"`
	AutoApply *bool  `json:"auto_apply"`
}

func (s *Server) handleCreateWebhookConfig(w http.ResponseWriter, r *http.Request) {
	if !s.webhooksConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createWebhookConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoURL == "" || req.Branch == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "repo_url, branch, and secret are required")
		return
	}
	// auto_plan defaults true, auto_apply defaults false, matching the
	// original service's asserted defaults.
	autoPlan := true
	if req.AutoPlan != nil {
		autoPlan = *req.AutoPlan
	}
	autoApply := false
	if req.AutoApply != nil {
		autoApply = *req.AutoApply
	}

	cfg, err := s.webhookSvc.CreateConfig(r.Context(), claims.TenantID, req.RepoURL, req.Branch, req.Secret, autoPlan, autoApply)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook config")
		return
	}
	writeJSON(w, http.StatusCreated, webhookConfigResponse{
		ID: cfg.ID, Provider: cfg.Provider, RepoURL: cfg.RepoURL, Branch: cfg.Branch,
		AutoPlan: cfg.AutoPlan, AutoApply: cfg.AutoApply,
	})
}

func (s *Server) handleDeleteWebhookConfig(w http.ResponseWriter, r *http.Request) {
	if !s.webhooksConfigured(w) {
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id := r.PathValue("id")
	if err := s.webhookSvc.DeleteConfig(r.Context(), claims.TenantID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook config not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete webhook config")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
