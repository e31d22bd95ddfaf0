package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/middleware"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/model"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/repository"
)

type stubEngine struct {
	forwardResult bool
	forwardedIDs  []string
}

func (e *stubEngine) ForwardOrder(ctx context.Context, order model.Order) bool {
	e.forwardedIDs = append(e.forwardedIDs, order.ExternalID)
	return e.forwardResult
}

func newTestServer(t *testing.T, engine *stubEngine) (*httptest.Server, *repository.MemoryRepository) {
	t.Helper()

	ledger := repository.NewMemoryRepository()
	auth := middleware.NewAuthMiddleware("admin-secret")
	h := NewHandler(engine, ledger, zap.NewNop(), auth)

	ts := httptest.NewServer(h.SetupRouter())
	t.Cleanup(ts.Close)

	return ts, ledger
}

func authedRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin-secret")
	return req
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &stubEngine{})

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListOrders(t *testing.T) {
	ts, ledger := newTestServer(t, &stubEngine{})
	ctx := context.Background()

	_, err := ledger.UpsertOrder(ctx, "A-1", json.RawMessage(`{"orderItemNumber":"A-1"}`))
	require.NoError(t, err)
	_, err = ledger.UpsertOrder(ctx, "A-2", json.RawMessage(`{"orderItemNumber":"A-2"}`))
	require.NoError(t, err)

	req := authedRequest(t, http.MethodGet, ts.URL+"/api/orders?status=RECEIVED_FROM_SUPPLIER")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []struct {
		ExternalID string `json:"externalId"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, "A-1", views[0].ExternalID)
	assert.Equal(t, "A-2", views[1].ExternalID)
}

func TestListOrders_RequiresStatus(t *testing.T) {
	ts, _ := newTestServer(t, &stubEngine{})

	req := authedRequest(t, http.MethodGet, ts.URL+"/api/orders")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListOrders_RequiresAuth(t *testing.T) {
	ts, _ := newTestServer(t, &stubEngine{})

	resp, err := http.Get(ts.URL + "/api/orders?status=RECEIVED_FROM_SUPPLIER")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForwardOrder(t *testing.T) {
	engine := &stubEngine{forwardResult: true}
	ts, ledger := newTestServer(t, engine)

	_, err := ledger.UpsertOrder(context.Background(), "A-1", json.RawMessage(`{"orderItemNumber":"A-1"}`))
	require.NoError(t, err)

	req := authedRequest(t, http.MethodPost, ts.URL+"/api/orders/A-1/forward")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		ExternalID string `json:"externalId"`
		Forwarded  bool   `json:"forwarded"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Forwarded)
	assert.Equal(t, []string{"A-1"}, engine.forwardedIDs)
}

func TestForwardOrder_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, &stubEngine{})

	req := authedRequest(t, http.MethodPost, ts.URL+"/api/orders/missing/forward")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
