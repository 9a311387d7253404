// Package billing implements the inbound Stripe webhook surface (§6.6):
// an event-type dispatch table that updates BillingCustomer rows and
// otherwise returns {"status":"ignored"} so Stripe never sees a retry-
// worthy failure for event types this system doesn't act on. Stripe's
// own SDK, signature verification, and the outbound billing portal are
// out of scope — this package only consumes the webhook payload shape.
package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ironlayer/ironlayer/internal/repository"
	"go.uber.org/zap"
)

// handled event types, per the documented list. Anything else is ignored.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoicePaymentFail  = "invoice.payment_failed"
)

// stripeEvent is the minimal envelope this package reads out of a webhook
// body; every other Stripe field is left unparsed.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// subscriptionObject is the subset of a Stripe Subscription object this
// package needs to resolve and update a tenant's billing row.
type subscriptionObject struct {
	ID          string            `json:"id"`
	Customer    string            `json:"customer"`
	Status      string            `json:"status"`
	CurrentPeriodStart int64       `json:"current_period_start"`
	CurrentPeriodEnd    int64       `json:"current_period_end"`
	Metadata    map[string]string `json:"metadata"`
	Items       struct {
		Data []struct {
			Price struct {
				Nickname string            `json:"nickname"`
				Metadata map[string]string `json:"metadata"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// invoiceObject is the subset of a Stripe Invoice object this package
// reads; payment status itself is carried entirely by the event type.
type invoiceObject struct {
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// Service handles inbound Stripe webhooks and persists the resulting
// billing state via repository.Store, opening a tenant-bound store only
// once the tenant has been resolved from the payload.
type Service struct {
	db      *sql.DB
	dialect repository.Dialect
	logger  *zap.Logger
}

// NewService builds a Service over an already-open database handle.
func NewService(db *sql.DB, dialect repository.Dialect, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, dialect: dialect, logger: logger}
}

// HandleWebhook implements POST /billing/webhooks. Stripe's own signature
// verification precedes this handler in the real deployment; this
// function only interprets an already-authenticated payload.
func (s *Service) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	var evt stripeEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	switch evt.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaid, EventInvoicePaymentFail:
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := r.Context()
	if err := s.dispatch(ctx, evt); err != nil {
		s.logger.Warn("stripe webhook handling failed",
			zap.String("event_id", evt.ID), zap.String("event_type", evt.Type), zap.Error(err))
		// Still 200: a handling failure on our side should not trigger a
		// Stripe retry storm, matching the unknown-tenant behavior below.
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) dispatch(ctx context.Context, evt stripeEvent) error {
	switch evt.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.handleSubscriptionUpsert(ctx, evt.Data.Object)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, evt.Data.Object)
	case EventInvoicePaid, EventInvoicePaymentFail:
		return s.handleInvoice(ctx, evt.Data.Object)
	default:
		return nil
	}
}

func (s *Service) handleSubscriptionUpsert(ctx context.Context, raw json.RawMessage) error {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("billing: decode subscription: %w", err)
	}

	tenantID, ok := s.resolveTenant(ctx, sub.Customer, sub.Metadata)
	if !ok {
		s.logger.Info("stripe webhook for unknown tenant, ignoring",
			zap.String("stripe_customer_id", sub.Customer))
		return nil
	}

	store, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return fmt.Errorf("billing: open store for tenant %s: %w", tenantID, err)
	}

	periodStart := unixPtr(sub.CurrentPeriodStart)
	periodEnd := unixPtr(sub.CurrentPeriodEnd)

	return store.UpsertBillingCustomer(ctx, repository.BillingCustomer{
		TenantID:             tenantID,
		StripeCustomerID:     sub.Customer,
		StripeSubscriptionID: sub.ID,
		PlanTier:             planTierFromSubscription(sub),
		PeriodStart:          periodStart,
		PeriodEnd:            periodEnd,
	})
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, raw json.RawMessage) error {
	var sub subscriptionObject
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("billing: decode subscription: %w", err)
	}

	tenantID, ok := s.resolveTenant(ctx, sub.Customer, sub.Metadata)
	if !ok {
		s.logger.Info("stripe webhook for unknown tenant, ignoring",
			zap.String("stripe_customer_id", sub.Customer))
		return nil
	}

	store, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return fmt.Errorf("billing: open store for tenant %s: %w", tenantID, err)
	}

	existing, err := store.GetBillingCustomer(ctx)
	if err != nil && err != repository.ErrNotFound {
		return err
	}
	existing.TenantID = tenantID
	existing.StripeCustomerID = sub.Customer
	existing.StripeSubscriptionID = sub.ID
	existing.PlanTier = TierCommunity
	return store.UpsertBillingCustomer(ctx, existing)
}

func (s *Service) handleInvoice(ctx context.Context, raw json.RawMessage) error {
	var inv invoiceObject
	if err := json.Unmarshal(raw, &inv); err != nil {
		return fmt.Errorf("billing: decode invoice: %w", err)
	}

	tenantID, ok := s.resolveTenant(ctx, inv.Customer, inv.Metadata)
	if !ok {
		s.logger.Info("stripe webhook for unknown tenant, ignoring",
			zap.String("stripe_customer_id", inv.Customer))
		return nil
	}

	// Invoice events confirm the subscription's existing state; without a
	// richer Stripe client to re-fetch the subscription object, the only
	// durable write here is making sure a billing row exists for the
	// tenant.
	store, err := repository.New(ctx, s.db, s.dialect, tenantID)
	if err != nil {
		return fmt.Errorf("billing: open store for tenant %s: %w", tenantID, err)
	}
	existing, err := store.GetBillingCustomer(ctx)
	if err == repository.ErrNotFound {
		return store.UpsertBillingCustomer(ctx, repository.BillingCustomer{
			TenantID:             tenantID,
			StripeCustomerID:     inv.Customer,
			StripeSubscriptionID: inv.Subscription,
			PlanTier:             TierCommunity,
		})
	}
	return err
}

// Plan tiers, matching BillingCustomer.plan_tier's documented domain.
const (
	TierCommunity  = "community"
	TierTeam       = "team"
	TierEnterprise = "enterprise"
)

// planTierFromSubscription reads the tier out of the subscription's first
// price nickname/metadata, falling back to community when absent — a
// webhook must never fail the whole handler over an unrecognized tier.
func planTierFromSubscription(sub subscriptionObject) string {
	if len(sub.Items.Data) == 0 {
		return TierCommunity
	}
	price := sub.Items.Data[0].Price
	if tier := price.Metadata["ironlayer_plan_tier"]; tier != "" {
		return tier
	}
	switch price.Nickname {
	case TierTeam, TierEnterprise:
		return price.Nickname
	default:
		return TierCommunity
	}
}

// resolveTenant implements the documented two-step lookup: the
// billing_customers row keyed by stripe_customer_id, falling back to the
// ironlayer_tenant_id metadata key set at checkout creation.
func (s *Service) resolveTenant(ctx context.Context, stripeCustomerID string, metadata map[string]string) (string, bool) {
	if stripeCustomerID != "" {
		tenantID, err := repository.LookupTenantByStripeCustomerID(ctx, s.db, s.dialect, stripeCustomerID)
		if err == nil {
			return tenantID, true
		}
		if err != repository.ErrNotFound {
			s.logger.Warn("billing customer lookup failed", zap.Error(err))
		}
	}
	if tenantID := metadata["ironlayer_tenant_id"]; tenantID != "" {
		return tenantID, true
	}
	return "", false
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
