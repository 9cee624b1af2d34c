package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-dialer/internal/backend"
	"github.com/acme/campaign-dialer/internal/config"
	"github.com/acme/campaign-dialer/internal/domain"
	apperrors "github.com/acme/campaign-dialer/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.BackendConfig{BaseURL: srv.URL + "/api", APIKey: "secret", RequestTimeout: time.Second})
	require.NoError(t, err)
	return client
}

func TestInitiateCallSendsUniqueID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/calls/single", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body initiateCallRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u-1", body.UniqueID)
		assert.Equal(t, "+15550100", body.Phone)

		_ = json.NewEncoder(w).Encode(initiateCallResponse{Success: true, UniqueID: body.UniqueID})
	})

	res, err := client.InitiateCall(context.Background(), backend.CallRequest{
		CampaignID: "c1",
		AgentID:    "a1",
		Contact:    domain.Contact{Phone: "+15550100"},
		UniqueID:   "u-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "u-1", res.UniqueID)
}

func TestInsufficientCreditsIsDistinct(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"message":"top up required"}`))
	})

	_, err := client.InitiateCall(context.Background(), backend.CallRequest{CampaignID: "c1", UniqueID: "u"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientCredits)
	assert.Contains(t, err.Error(), "top up required")
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CallingStatus(context.Background(), "c1")
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
}

func TestMergedCallsDecodesPage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/campaigns/c1/merged-calls", r.URL.Path)
		assert.Equal(t, "r1", r.URL.Query().Get("runId"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{
			"data": [{"documentId":"d1","phone":"+1","status":"completed","duration":12.5,"leadStatus":"interested"}],
			"totals": {"totalCalls": 7, "totalConnected": 4, "totalNotConnected": 3, "totalDuration": 90},
			"pagination": {"currentPage": 2, "totalPages": 3, "totalItems": 41}
		}`))
	})

	page, err := client.MergedCalls(context.Background(), backend.PageQuery{CampaignID: "c1", RunID: "r1", Page: 2, Limit: 20})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, domain.CallLogCompleted, page.Entries[0].Status)
	assert.Equal(t, 12500*time.Millisecond, page.Entries[0].Duration)
	assert.Equal(t, domain.DispositionInterested, page.Entries[0].Disposition)
	assert.Equal(t, backend.Pagination{Page: 2, TotalPages: 3, TotalItems: 41}, page.Pagination)
	assert.Equal(t, 90*time.Second, page.Totals.TotalDuration)
}

func TestCallingStatusDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"isActive":false,"runId":"r9","progress":{"total":3,"completed":3},"allCallsFinalized":true}`))
	})

	st, err := client.CallingStatus(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, st.IsActive)
	assert.True(t, st.AllCallsFinalized)
	assert.Equal(t, "r9", st.RunID)
	assert.Equal(t, 3, st.Progress.Completed)
}
