package httpapi

import (
	"fmt"
	"net/http"

	"github.com/ironlayer/ironlayer/internal/auth"
	"github.com/ironlayer/ironlayer/internal/license"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("POST /auth/signup", s.handleSignup)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /auth/session", s.handleSession)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	mux.HandleFunc("POST /plans", s.withPermission(auth.PermCreatePlans, s.handleCreatePlan))
	mux.HandleFunc("GET /plans/{id}", s.withPermission(auth.PermReadPlans, s.handleGetPlan))
	mux.HandleFunc("POST /plans/{id}/augment", s.withPermission(auth.PermReadPlans, s.withFeature(license.FeatureAIAdvisory, s.handleAugmentPlan)))
	mux.HandleFunc("POST /plans/{id}/apply", s.withPermission(auth.PermApplyPlans, s.handleApplyPlan))

	mux.HandleFunc("GET /models", s.withPermission(auth.PermReadModels, s.handleListModels))
	mux.HandleFunc("GET /models/{name}/lineage", s.withPermission(auth.PermReadModels, s.handleModelLineage))
	mux.HandleFunc("GET /models/{name}/column-lineage", s.withPermission(auth.PermReadModels, s.handleColumnLineage))

	mux.HandleFunc("GET /billing/plans", s.handleBillingPlans)
	if s.billingSvc != nil {
		mux.HandleFunc("POST /billing/webhooks", s.billingSvc.HandleWebhook)
	}

	mux.HandleFunc("GET /audit", s.withPermission(auth.PermViewAudit, s.withFeature(license.FeatureAuditLog, s.handleAuditLog)))
	mux.HandleFunc("POST /reconciliation/trigger", s.withPermission(auth.PermTriggerReconciliation, s.withFeature(license.FeatureReconciliation, s.handleReconciliationTrigger)))
	mux.HandleFunc("GET /reconciliation/schedules", s.withPermission(auth.PermTriggerReconciliation, s.withFeature(license.FeatureReconciliation, s.handleListSchedules)))
	mux.HandleFunc("POST /reconciliation/schedules", s.withPermission(auth.PermTriggerReconciliation, s.withFeature(license.FeatureReconciliation, s.handleCreateSchedule)))
	mux.HandleFunc("DELETE /reconciliation/schedules/{id}", s.withPermission(auth.PermTriggerReconciliation, s.withFeature(license.FeatureReconciliation, s.handleDeleteSchedule)))

	mux.HandleFunc("POST /webhooks/github", s.handleGithubPush)
	mux.HandleFunc("GET /webhooks/configs", s.withPermission(auth.PermManageWebhooks, s.handleListWebhookConfigs))
	mux.HandleFunc("POST /webhooks/configs", s.withPermission(auth.PermManageWebhooks, s.handleCreateWebhookConfig))
	mux.HandleFunc("DELETE /webhooks/configs/{id}", s.withPermission(auth.PermManageWebhooks, s.handleDeleteWebhookConfig))

	mux.HandleFunc("GET /analytics/overview", s.withPermission(auth.PermViewPlatformAnalytics, s.handleAnalyticsOverview))
	mux.HandleFunc("GET /analytics/tenants", s.withPermission(auth.PermViewPlatformAnalytics, s.handleAnalyticsTenants))
	mux.HandleFunc("GET /analytics/revenue", s.withPermission(auth.PermViewPlatformAnalytics, s.handleAnalyticsRevenue))
	mux.HandleFunc("GET /analytics/costs", s.withPermission(auth.PermViewPlatformAnalytics, s.handleAnalyticsCosts))
	mux.HandleFunc("GET /analytics/health", s.withPermission(auth.PermViewPlatformAnalytics, s.handleAnalyticsHealth))

	mux.HandleFunc("GET /environments", s.withPermission(auth.PermManageEnvironments, s.handleListEnvironments))
	mux.HandleFunc("POST /environments", s.withPermission(auth.PermManageEnvironments, s.handleCreateEnvironment))
	mux.HandleFunc("POST /environments/ephemeral", s.withPermission(auth.PermManageEnvironments, s.handleCreateEphemeralEnvironment))
	mux.HandleFunc("GET /environments/{name}", s.withPermission(auth.PermManageEnvironments, s.handleGetEnvironment))
	mux.HandleFunc("DELETE /environments/{name}", s.withPermission(auth.PermManageEnvironments, s.handleDeleteEnvironment))
	mux.HandleFunc("POST /environments/cleanup", s.withPermission(auth.PermManageEnvironments, s.handleCleanupEnvironments))
	mux.HandleFunc("POST /environments/promote", s.withPermission(auth.PermManageEnvironments, s.handlePromoteEnvironment))
	mux.HandleFunc("GET /environments/promotions", s.withPermission(auth.PermManageEnvironments, s.handlePromotionHistory))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version, "commit": Commit, "date": Date})
}
