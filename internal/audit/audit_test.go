package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"turpe-billing/internal/auth"
)

func TestFromRequestCarriesIdentity(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/runs", nil)
	req.RemoteAddr = "10.0.0.7:5123"
	req.Header.Set("User-Agent", "ops-cli")
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-a", auth.RoleOperator, "alice"))

	entry := FromRequest(req, ActionRunTriggered, "billing_run", "run-1", map[string]string{"horizon": "2025-03-01"})

	assert.Equal(t, "tenant-a", entry.TenantID)
	assert.Equal(t, "alice", entry.Actor)
	assert.Equal(t, "operator", entry.Role)
	assert.Equal(t, "10.0.0.7", entry.IP)
	assert.Equal(t, "ops-cli", entry.UserAgent)
	assert.JSONEq(t, `{"horizon":"2025-03-01"}`, string(entry.Metadata))
}

func TestZapLoggerFillsDefaults(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapLogger(zap.New(core))

	err := sink.Log(context.Background(), Entry{Action: ActionExport, Metadata: []byte(`{"month":"2025-03"}`)})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, ActionExport, fields["action"])
	assert.Equal(t, DigestJSON([]byte(`{"month":"2025-03"}`)), fields["payload_digest"])
	assert.NotEmpty(t, fields["id"])
}

func TestDigestJSONEmpty(t *testing.T) {
	assert.Empty(t, DigestJSON(nil))
}

func TestClientIPPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:80"
	assert.Equal(t, "10.0.0.1", ClientIP(req))

	req.Header.Set("X-Real-IP", " 192.0.2.4 ")
	assert.Equal(t, "192.0.2.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.2")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
	assert.Empty(t, ClientIP(nil))
}
