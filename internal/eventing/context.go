package eventing

import "context"

type contextKey string

const (
	contextKeyTenant contextKey = "eventing.tenant_id"
	contextKeyCorr   contextKey = "eventing.correlation_id"
)

// WithTenantID sets the tenant stamped on published envelopes.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, contextKeyTenant, tenantID)
}

// WithCorrelationID sets the correlation id stamped on published envelopes.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// MetaFromContext builds envelope metadata from ctx.
func MetaFromContext(ctx context.Context, defaultTenantID string) Meta {
	meta := Meta{TenantID: defaultTenantID}
	if tenantID, ok := ctx.Value(contextKeyTenant).(string); ok && tenantID != "" {
		meta.TenantID = tenantID
	}
	if corr, ok := ctx.Value(contextKeyCorr).(string); ok {
		meta.CorrelationID = corr
	}
	return meta
}
