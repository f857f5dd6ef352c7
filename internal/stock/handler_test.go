package stock

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ventas-erp/ventas-erp/internal/platform/httpx"
	"github.com/ventas-erp/ventas-erp/internal/shared"
	_ "github.com/ventas-erp/ventas-erp/testing"
)

type enqueueStub struct {
	calls int
	actor int64
	err   error
}

func (e *enqueueStub) EnqueueStockRepair(ctx context.Context, actorID int64) (string, error) {
	e.calls++
	e.actor = actorID
	if e.err != nil {
		return "", e.err
	}
	return "task-1", nil
}

func newTestRouter(t *testing.T, repo *memoryRepo, jobs RepairEnqueuer) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, nil, newIdempotencySpy(), ServiceConfig{})
	svc.SetLogger(logger)
	r := chi.NewRouter()
	NewHandler(logger, svc, jobs).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func problemOf(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHandlerSaleAndReturn(t *testing.T) {
	repo := newColaRepo()
	h := newTestRouter(t, repo, nil)

	rec := doJSON(t, h, http.MethodPost, "/sales", `{"lines":[{"product_id":1,"quantity":1,"unit_entry_id":16,"unit_price":"100.00"}]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sale Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	require.Equal(t, boxID, sale.Lines[0].EntryID)

	body := `{"sale_id":` + jsonInt(int64(sale.ID)) + `,"items":[{"product_id":1,"quantity":1,"unit_price":"100.00","unit_entry_id":10}]}`
	rec = doJSON(t, h, http.MethodPost, "/returns", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ret Return
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	require.Equal(t, boxID, ret.Lines[0].EntryID)

	rec = doJSON(t, h, http.MethodPost, "/returns", body, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, httpx.ProblemTypeBase+"over_return", problemOf(t, rec).Type)
}

func TestHandlerErrorMapping(t *testing.T) {
	repo := newColaRepo()
	repo.seedProduct(3, "Sin unidades", 0)
	h := newTestRouter(t, repo, nil)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"insufficient stock", "/sales", `{"lines":[{"product_id":1,"quantity":2,"unit_entry_id":16,"unit_price":"1"}]}`, http.StatusConflict, "insufficient_stock"},
		{"unknown product", "/sales", `{"lines":[{"product_id":99,"quantity":1,"unit_price":"1"}]}`, http.StatusNotFound, "not_found"},
		{"foreign entry", "/sales", `{"lines":[{"product_id":1,"quantity":1,"unit_entry_id":999,"unit_price":"1"}]}`, http.StatusNotFound, "not_found"},
		{"no units", "/sales", `{"lines":[{"product_id":3,"quantity":1,"unit_price":"1"}]}`, http.StatusConflict, "no_units_configured"},
		{"zero quantity", "/sales", `{"lines":[{"product_id":1,"quantity":0,"unit_price":"1"}]}`, http.StatusUnprocessableEntity, "invalid_input"},
		{"negative price", "/sales", `{"lines":[{"product_id":1,"quantity":1,"unit_price":"-1"}]}`, http.StatusUnprocessableEntity, "invalid_input"},
		{"empty sale", "/sales", `{"lines":[]}`, http.StatusUnprocessableEntity, "invalid_input"},
		{"unknown sale", "/returns", `{"sale_id":404,"items":[{"product_id":1,"quantity":1,"unit_price":"1"}]}`, http.StatusNotFound, "not_found"},
		{"malformed", "/sales", `{"lines":`, http.StatusBadRequest, "malformed_request"},
		{"unknown field", "/sales", `{"lines":[],"discount":5}`, http.StatusBadRequest, "malformed_request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, tc.path, tc.body, nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, httpx.ProblemTypeBase+tc.code, problemOf(t, rec).Type)
		})
	}
	require.Equal(t, int64(1), repo.entry(boxID).Stock)
}

func TestHandlerIdempotencyKey(t *testing.T) {
	repo := newColaRepo()
	h := newTestRouter(t, repo, nil)
	body := `{"lines":[{"product_id":1,"quantity":1,"unit_price":"10"}]}`
	key := map[string]string{HeaderIdempotencyKey: uuid.NewString()}

	rec := doJSON(t, h, http.MethodPost, "/sales", body, key)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/sales", body, key)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, httpx.ProblemTypeBase+"idempotency_conflict", problemOf(t, rec).Type)
	require.Equal(t, int64(140), repo.entry(singleID).Stock)

	rec = doJSON(t, h, http.MethodPost, "/sales", body, map[string]string{HeaderIdempotencyKey: "retry-1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerCatalogAndStock(t *testing.T) {
	repo := newColaRepo()
	h := newTestRouter(t, repo, nil)

	rec := doJSON(t, h, http.MethodGet, "/products/1/stock", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view StockView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, int64(153), view.Product.StockTotal)

	rec = doJSON(t, h, http.MethodPatch, "/product-units/16", `{"conversion_factor":"24"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, int64(165), repo.product(colaID).StockTotal)

	rec = doJSON(t, h, http.MethodPost, "/product-units/16/principal", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, repo.entry(boxID).IsPrincipal)

	rec = doJSON(t, h, http.MethodPost, "/product-units/16/disable", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, repo.entry(boxID).Active)

	rec = doJSON(t, h, http.MethodPost, "/products", `{"name":"Agua","code":"AG-1","base_price":"1.5"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var product Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &product))

	rec = doJSON(t, h, http.MethodPost, "/products/"+jsonInt(int64(product.ID))+"/units", `{"unit_id":10,"conversion_factor":"1","unit_price":"1.5","initial_stock":12,"principal":true}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, int64(12), repo.product(product.ID).StockTotal)

	rec = doJSON(t, h, http.MethodGet, "/products/abc/stock", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRepair(t *testing.T) {
	repo := newColaRepo()
	repo.seedProduct(colaID, "Cola", 10)
	jobs := &enqueueStub{}
	h := newTestRouter(t, repo, jobs)

	rec := doJSON(t, h, http.MethodPost, "/admin/stock/repair/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res RepairResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, int64(10), res.Previous)
	require.Equal(t, int64(153), res.Current)

	rec = doJSON(t, h, http.MethodPost, "/admin/stock/repair", "", map[string]string{HeaderActorID: "7"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, jobs.calls)
	require.Equal(t, int64(7), jobs.actor)

	jobs.err = ErrRepairRunning
	rec = doJSON(t, h, http.MethodPost, "/admin/stock/repair", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, httpx.ProblemTypeBase+"repair_running", problemOf(t, rec).Type)

	rec = doJSON(t, newTestRouter(t, repo, nil), http.MethodPost, "/admin/stock/repair", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type auditReaderStub struct {
	logs []shared.AuditLog
}

func (a *auditReaderStub) List(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error) {
	var out []shared.AuditLog
	for _, l := range a.logs {
		if l.Entity == entity && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func TestHandlerAuditTrail(t *testing.T) {
	repo := newColaRepo()
	repo.seedProduct(colaID, "Cola", 10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := &auditSpy{}
	svc := NewService(repo, audit, nil, ServiceConfig{})
	svc.SetLogger(logger)
	handler := NewHandler(logger, svc, nil)
	r := chi.NewRouter()
	handler.MountRoutes(r)

	rec := doJSON(t, r, http.MethodGet, "/audit/product/1", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	reader := &auditReaderStub{}
	handler.SetAuditReader(reader)

	rec = doJSON(t, r, http.MethodPost, "/admin/stock/repair/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reader.logs = audit.actions(ActionRepair)

	rec = doJSON(t, r, http.MethodGet, "/audit/product/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []shared.AuditLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	require.Equal(t, ActionRepair, logs[0].Action)

	rec = doJSON(t, r, http.MethodGet, "/audit/sale/1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = doJSON(t, r, http.MethodGet, "/audit/invoice/1", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func jsonInt(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
