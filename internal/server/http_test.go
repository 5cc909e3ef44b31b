package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/export"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository/memstore"
)

func newRouter(t *testing.T, checks map[string]HealthFunc) (http.Handler, *entity.Customer) {
	t.Helper()
	repos := memstore.New().Repositories()
	cust, err := repos.Customers.Create(context.Background(), &entity.Customer{Name: "Ana", Phone: "+15550100"})
	require.NoError(t, err)
	return NewHTTPHandler(export.NewService(repos, nil), checks, nil).Router(), cust
}

func TestHealthz(t *testing.T) {
	router, _ := newRouter(t, map[string]HealthFunc{
		"database": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["database"])
}

func TestHealthz_FailingCheck(t *testing.T) {
	router, _ := newRouter(t, map[string]HealthFunc{
		"database": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportCustomer(t *testing.T) {
	router, cust := newRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/export/customers/"+cust.ID.String()+"?from=2026-01-01&to=2026-12-31", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "customer-"+cust.ID.String())

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Receipts")
}

func TestExportCustomer_Errors(t *testing.T) {
	router, _ := newRouter(t, nil)
	cases := map[string]int{
		"/v1/export/customers/not-a-uuid":                                      http.StatusBadRequest,
		"/v1/export/customers/6f1c2f7e-0000-4000-8000-000000000000":            http.StatusNotFound,
		"/v1/export/customers/6f1c2f7e-0000-4000-8000-000000000000?from=March": http.StatusBadRequest,
		"/v1/export/review-queue?limit=-3":                                     http.StatusBadRequest,
	}
	for path, want := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
}

func TestExportReviewQueue(t *testing.T) {
	router, _ := newRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/export/review-queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Review Queue")
}
