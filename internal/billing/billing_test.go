package billing

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ironlayer/ironlayer/internal/repository"
	"go.uber.org/zap/zaptest"

	_ "modernc.org/sqlite"
)

func openTestService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "billing.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Seed the schema by opening (and discarding) a tenant-bound store;
	// the webhook handler itself opens its own store once it has
	// resolved a tenant.
	if _, err := repository.New(context.Background(), db, repository.DialectSQLite, "bootstrap"); err != nil {
		t.Fatalf("repository.New: %v", err)
	}

	return NewService(db, repository.DialectSQLite, zaptest.NewLogger(t)), db
}

func postWebhook(t *testing.T, svc *Service, evtType string, object map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]any{
		"id":   "evt_test",
		"type": evtType,
		"data": map[string]any{"object": object},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/billing/webhooks", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	svc.HandleWebhook(rec, req)
	return rec
}

func TestHandleWebhookIgnoresUnhandledEventType(t *testing.T) {
	svc, _ := openTestService(t)
	rec := postWebhook(t, svc, "customer.created", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ignored" {
		t.Fatalf("status field = %q, want %q (unhandled types are acknowledged, not an error)", resp["status"], "ignored")
	}
}

func TestHandleWebhookUnknownTenantReturns200(t *testing.T) {
	svc, _ := openTestService(t)
	rec := postWebhook(t, svc, EventSubscriptionCreated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_unknown",
		"status":   "active",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for an unresolvable tenant", rec.Code)
	}
}

func TestHandleWebhookResolvesTenantByMetadataOnFirstSight(t *testing.T) {
	svc, db := openTestService(t)

	rec := postWebhook(t, svc, EventSubscriptionCreated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_42",
		"status":   "active",
		"metadata": map[string]string{"ironlayer_tenant_id": "tenant-a"},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"nickname": "team"}},
			},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	store, err := repository.New(context.Background(), db, repository.DialectSQLite, "tenant-a")
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	cust, err := store.GetBillingCustomer(context.Background())
	if err != nil {
		t.Fatalf("GetBillingCustomer: %v", err)
	}
	if cust.StripeCustomerID != "cus_42" {
		t.Fatalf("stripe_customer_id = %q, want cus_42", cust.StripeCustomerID)
	}
	if cust.PlanTier != TierTeam {
		t.Fatalf("plan_tier = %q, want %q", cust.PlanTier, TierTeam)
	}
}

func TestHandleWebhookResolvesTenantByStripeCustomerIDOnRepeat(t *testing.T) {
	svc, db := openTestService(t)

	// First event establishes the billing_customers row via metadata.
	postWebhook(t, svc, EventSubscriptionCreated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_42",
		"status":   "active",
		"metadata": map[string]string{"ironlayer_tenant_id": "tenant-a"},
	})

	// A later event for the same customer carries no metadata at all —
	// tenant must resolve from the stored stripe_customer_id lookup.
	rec := postWebhook(t, svc, EventSubscriptionUpdated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_42",
		"status":   "active",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	store, err := repository.New(context.Background(), db, repository.DialectSQLite, "tenant-a")
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	if _, err := store.GetBillingCustomer(context.Background()); err != nil {
		t.Fatalf("GetBillingCustomer: %v", err)
	}
}

func TestHandleWebhookSubscriptionDeletedDowngradesToCommunity(t *testing.T) {
	svc, db := openTestService(t)

	postWebhook(t, svc, EventSubscriptionCreated, map[string]any{
		"id":       "sub_1",
		"customer": "cus_42",
		"status":   "active",
		"metadata": map[string]string{"ironlayer_tenant_id": "tenant-a"},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"nickname": "enterprise"}},
			},
		},
	})

	postWebhook(t, svc, EventSubscriptionDeleted, map[string]any{
		"id":       "sub_1",
		"customer": "cus_42",
		"metadata": map[string]string{"ironlayer_tenant_id": "tenant-a"},
	})

	store, err := repository.New(context.Background(), db, repository.DialectSQLite, "tenant-a")
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	cust, err := store.GetBillingCustomer(context.Background())
	if err != nil {
		t.Fatalf("GetBillingCustomer: %v", err)
	}
	if cust.PlanTier != TierCommunity {
		t.Fatalf("plan_tier = %q, want %q after cancellation", cust.PlanTier, TierCommunity)
	}
}

func TestHandleWebhookInvalidBodyReturns400(t *testing.T) {
	svc, _ := openTestService(t)
	req := httptest.NewRequest(http.MethodPost, "/billing/webhooks", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	svc.HandleWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPlanTierFromSubscriptionDefaultsToCommunity(t *testing.T) {
	sub := subscriptionObject{ID: "sub_1"}
	if got := planTierFromSubscription(sub); got != TierCommunity {
		t.Fatalf("planTierFromSubscription(empty) = %q, want %q", got, TierCommunity)
	}
}

func TestPlanTierFromSubscriptionPrefersMetadataOverNickname(t *testing.T) {
	sub := subscriptionObject{}
	sub.Items.Data = []struct {
		Price struct {
			Nickname string            `json:"nickname"`
			Metadata map[string]string `json:"metadata"`
		} `json:"price"`
	}{
		{Price: struct {
			Nickname string            `json:"nickname"`
			Metadata map[string]string `json:"metadata"`
		}{Nickname: "team", Metadata: map[string]string{"ironlayer_plan_tier": "enterprise"}}},
	}
	if got := planTierFromSubscription(sub); got != TierEnterprise {
		t.Fatalf("planTierFromSubscription = %q, want %q", got, TierEnterprise)
	}
}
