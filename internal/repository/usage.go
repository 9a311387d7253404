package repository

import (
	"context"
	"time"

	"github.com/ironlayer/ironlayer/internal/auth"
	"github.com/ironlayer/ironlayer/internal/metering"
	"github.com/ironlayer/ironlayer/internal/quota"
)

// UsageAdapter composes Store and auth.UserStore into a full
// quota.UsageReader. It is stateless across tenants — each method rebinds
// the tenant via WithTenant rather than holding one tenantID, since
// quota.UsageReader is called for whichever tenant is making the request.
type UsageAdapter struct {
	store *Store
	users *auth.UserStore
}

// NewUsageAdapter builds a UsageReader backed by store and users. Both must
// already be migrated; NewUsageAdapter does not create tables.
func NewUsageAdapter(store *Store, users *auth.UserStore) *UsageAdapter {
	return &UsageAdapter{store: store, users: users}
}

var quotaToMeteringEvent = map[quota.EventType]metering.EventType{
	quota.EventPlanRun:    metering.EventPlanRun,
	quota.EventAICall:     metering.EventAICall,
	quota.EventAPIRequest: metering.EventAPIRequest,
}

func startOfMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func startOfDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthlyEventCount implements quota.UsageReader.
func (a *UsageAdapter) MonthlyEventCount(ctx context.Context, tenantID string, eventType quota.EventType) (int, error) {
	mType, ok := quotaToMeteringEvent[eventType]
	if !ok {
		return 0, nil
	}
	return a.store.WithTenant(tenantID).CountEventsSince(ctx, string(mType), startOfMonth(time.Now()))
}

// ActiveSeatCount implements quota.UsageReader.
func (a *UsageAdapter) ActiveSeatCount(ctx context.Context, tenantID string) (int, error) {
	return a.users.WithTenant(tenantID).ActiveSeatCount(ctx)
}

// ModelCount implements quota.UsageReader.
func (a *UsageAdapter) ModelCount(ctx context.Context, tenantID string) (int, error) {
	return a.store.WithTenant(tenantID).CountModels(ctx)
}

// DailyLLMCostUSD implements quota.UsageReader.
func (a *UsageAdapter) DailyLLMCostUSD(ctx context.Context, tenantID string) (float64, error) {
	return a.store.WithTenant(tenantID).SumCostSince(ctx, string(metering.EventAICall), startOfDay(time.Now()))
}

// MonthlyLLMCostUSD implements quota.UsageReader.
func (a *UsageAdapter) MonthlyLLMCostUSD(ctx context.Context, tenantID string) (float64, error) {
	return a.store.WithTenant(tenantID).SumCostSince(ctx, string(metering.EventAICall), startOfMonth(time.Now()))
}
