package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockmatch/internal/core/apperror"
	appctx "stockmatch/internal/core/context"
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/id"
	"stockmatch/internal/core/numerator"
	"stockmatch/internal/core/types"
	"stockmatch/internal/domain/auth"
	"stockmatch/internal/domain/documents/stockmove"
	"stockmatch/internal/domain/matching"
	v1 "stockmatch/internal/infrastructure/http/v1"
	"stockmatch/internal/infrastructure/http/v1/dto"
	"stockmatch/internal/infrastructure/http/v1/handlers"
	"stockmatch/internal/infrastructure/storage/memory"
	"stockmatch/internal/infrastructure/storage/postgres"
	"stockmatch/pkg/logger"
)

type api struct {
	t        *testing.T
	handler  http.Handler
	operator string
	viewer   string
	store    *memory.Store
}

func newAPI(t *testing.T, idem *fakeIdempotency) *api {
	t.Helper()

	store := memory.NewStore()
	seq := numerator.NewMemoryAllocator()
	engine := matching.NewService(matching.Deps{
		Repo:      store,
		TxManager: store,
		Tracking:  store,
		Sequences: seq,
		Audit:     store,
		Events:    store,
	}, matching.DefaultConfig())
	docs := stockmove.NewService(memory.NewDocuments(store), engine, seq, store, store)

	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))
	operator, _, err := jwtSvc.GenerateAccessToken(appctx.UserContext{UserID: "op", Roles: []string{auth.RoleOperator}})
	require.NoError(t, err)
	viewer, _, err := jwtSvc.GenerateAccessToken(appctx.UserContext{UserID: "view", Roles: []string{auth.RoleViewer}})
	require.NoError(t, err)

	cfg := v1.RouterConfig{
		Logger:       logger.NewNop(),
		JWTValidator: jwtSvc,
		Engine:       engine,
		Documents:    docs,
		Tracking:     store,
		Health:       handlers.NewHealthHandler("stockmatch", "test", nil, nil),
	}
	if idem != nil {
		cfg.Idempotency = idem
	}

	return &api{t: t, handler: v1.NewRouter(cfg), operator: operator, viewer: viewer, store: store}
}

func (a *api) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var feb1 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func TestHealthLive(t *testing.T) {
	a := newAPI(t, nil)
	rec := a.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAuth(t *testing.T) {
	a := newAPI(t, nil)

	rec := a.do(http.MethodGet, "/api/v1/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperror.CodeUnauthorized, decode[dto.ErrorResponse](t, rec).Code)

	rec = a.do(http.MethodGet, "/api/v1/documents", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/documents", a.viewer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/documents", a.viewer, map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperror.CodeForbidden, decode[dto.ErrorResponse](t, rec).Code)
}

func TestDocumentsFlow(t *testing.T) {
	a := newAPI(t, nil)
	good, wh := id.New(), id.New()

	line := func(qty int64, cost string) map[string]any {
		l := map[string]any{"goodId": good.String(), "warehouseId": wh.String(), "quantity": qty}
		if cost != "" {
			l["unitCost"] = cost
		}
		return l
	}
	create := func(kind string, lines ...map[string]any) dto.DocumentResponse {
		rec := a.do(http.MethodPost, "/api/v1/documents", a.operator, map[string]any{
			"kind": kind, "date": feb1, "lines": lines,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[dto.DocumentResponse](t, rec)
	}

	purchaseA := create("purchase", line(100, "5"))
	purchaseB := create("purchase", line(50, "6"))
	for _, doc := range []dto.DocumentResponse{purchaseA, purchaseB} {
		rec := a.do(http.MethodPost, "/api/v1/documents/"+doc.ID+"/post", a.operator, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	sale := create("sale", line(120, ""))
	rec := a.do(http.MethodPost, "/api/v1/documents/"+sale.ID+"/post", a.operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	posted := decode[dto.PostResponse](t, rec)
	require.Len(t, posted.Allocations, 1)
	assert.Len(t, posted.Allocations[0].Matches, 2)
	assert.True(t, types.MustMoney("5.1667").Equal(posted.Allocations[0].UnitCost))
	assert.True(t, posted.Document.Posted)

	inA := purchaseA.Lines[0].ID
	rec = a.do(http.MethodGet, "/api/v1/lines/"+inA+"/remaining", a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.Quantity(0), decode[dto.RemainingResponse](t, rec).Remaining)

	rec = a.do(http.MethodGet, "/api/v1/availability?goodId="+good.String()+"&warehouseId="+wh.String(), a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.NewQuantity(30), decode[dto.AvailabilityResponse](t, rec).Available)

	// A supply with consumers cannot be unposted.
	rec = a.do(http.MethodPost, "/api/v1/documents/"+purchaseA.ID+"/unpost", a.operator, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperror.CodeReferencedByMatch, decode[dto.ErrorResponse](t, rec).Code)

	rec = a.do(http.MethodPost, "/api/v1/documents/"+sale.ID+"/unpost", a.operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[dto.DocumentResponse](t, rec).Posted)

	rec = a.do(http.MethodGet, "/api/v1/lines/"+inA+"/can-unlink", a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[dto.CanUnlinkResponse](t, rec).CanUnlink)

	rec = a.do(http.MethodGet, "/api/v1/documents?kind=sale", a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[dto.ListResponse[dto.DocumentResponse]](t, rec)
	assert.Equal(t, int64(1), list.TotalCount)

	rec = a.do(http.MethodDelete, "/api/v1/documents/"+sale.ID, a.operator, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/documents/"+sale.ID, a.viewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLinesOfDocumentsAreReadOnly(t *testing.T) {
	a := newAPI(t, nil)
	good, wh := id.New(), id.New()

	post := func(kind string, l map[string]any) dto.DocumentResponse {
		rec := a.do(http.MethodPost, "/api/v1/documents", a.operator, map[string]any{
			"kind": kind, "date": feb1, "lines": []map[string]any{l},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		doc := decode[dto.DocumentResponse](t, rec)
		rec = a.do(http.MethodPost, "/api/v1/documents/"+doc.ID+"/post", a.operator, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return doc
	}
	post("purchase", map[string]any{"goodId": good.String(), "warehouseId": wh.String(), "quantity": 10, "unitCost": "3"})
	sale := post("sale", map[string]any{"goodId": good.String(), "warehouseId": wh.String(), "quantity": 4})
	saleLine := sale.Lines[0].ID

	for _, req := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/lines/" + saleLine + "/reverse"},
		{http.MethodPost, "/api/v1/lines/" + saleLine + "/commit"},
		{http.MethodDelete, "/api/v1/lines/" + saleLine},
	} {
		rec := a.do(req.method, req.path, a.operator, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, req.path)
		errResp := decode[dto.ErrorResponse](t, rec)
		assert.Equal(t, apperror.CodeDocumentLine, errResp.Code, req.path)
		assert.Equal(t, sale.ID, errResp.Details["document_id"])
	}

	rec := a.do(http.MethodGet, "/api/v1/documents/"+sale.ID, a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[dto.DocumentResponse](t, rec)
	assert.True(t, doc.Posted)
	require.Len(t, doc.Lines, 1)
	assert.Equal(t, string(entity.LineStateDone), doc.Lines[0].State)
}

func TestDocumentsRejectUnstorableCost(t *testing.T) {
	a := newAPI(t, nil)
	rec := a.do(http.MethodPost, "/api/v1/documents", a.operator, map[string]any{
		"kind": "purchase", "date": feb1, "lines": []map[string]any{{
			"goodId": id.New().String(), "warehouseId": id.New().String(), "quantity": 1, "unitCost": "0.1234567",
		}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[dto.ErrorResponse](t, rec)
	assert.Equal(t, apperror.CodeValidation, errResp.Code)
	assert.Equal(t, "unitCost", errResp.Details["field"])
}

func TestDocumentsInsufficientStock(t *testing.T) {
	a := newAPI(t, nil)
	good, wh := id.New(), id.New()

	rec := a.do(http.MethodPost, "/api/v1/documents", a.operator, map[string]any{
		"kind": "sale", "date": feb1,
		"lines": []map[string]any{{"goodId": good.String(), "warehouseId": wh.String(), "quantity": 5}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	doc := decode[dto.DocumentResponse](t, rec)

	rec = a.do(http.MethodPost, "/api/v1/documents/"+doc.ID+"/post", a.operator, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, apperror.CodeInsufficientStock, decode[dto.ErrorResponse](t, rec).Code)
}

func TestDocumentsValidation(t *testing.T) {
	a := newAPI(t, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "unknown kind", body: map[string]any{
			"kind": "receipt", "date": feb1,
			"lines": []map[string]any{{"goodId": id.New().String(), "warehouseId": id.New().String(), "quantity": 1}},
		}},
		{name: "no lines", body: map[string]any{"kind": "purchase", "date": feb1, "lines": []any{}}},
		{name: "bad good id", body: map[string]any{
			"kind": "purchase", "date": feb1,
			"lines": []map[string]any{{"goodId": "x", "warehouseId": id.New().String(), "quantity": 1}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/api/v1/documents", a.operator, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, apperror.CodeValidation, decode[dto.ErrorResponse](t, rec).Code)
		})
	}

	rec := a.do(http.MethodGet, "/api/v1/documents/not-an-id", a.viewer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLinesFlow(t *testing.T) {
	a := newAPI(t, nil)
	good, wh := id.New(), id.New()

	register := func(kind string, qty int64, cost string) dto.LineResponse {
		body := map[string]any{
			"kind": kind, "goodId": good.String(), "warehouseId": wh.String(), "quantity": qty, "date": feb1,
		}
		if cost != "" {
			body["unitCost"] = cost
		}
		rec := a.do(http.MethodPost, "/api/v1/lines", a.operator, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decode[dto.LineResponse](t, rec)
	}

	in := register("purchase", 10, "2.5")
	assert.Equal(t, "draft", in.State)
	rec := a.do(http.MethodPost, "/api/v1/lines/"+in.ID+"/commit", a.operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Nil(t, decode[dto.CommitResponse](t, rec).Allocation)

	out := register("sale", 4, "")
	rec = a.do(http.MethodPost, "/api/v1/lines/"+out.ID+"/commit", a.operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	committed := decode[dto.CommitResponse](t, rec)
	require.NotNil(t, committed.Allocation)
	assert.Equal(t, "done", committed.Line.State)
	require.NotNil(t, committed.Line.UnitCost)
	assert.True(t, types.MustMoney("2.5").Equal(*committed.Line.UnitCost))

	rec = a.do(http.MethodGet, "/api/v1/lines/"+in.ID+"/matches", a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[dto.MatchesResponse](t, rec).Matches, 1)

	rec = a.do(http.MethodGet, "/api/v1/lines/"+in.ID+"/verify", a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verified := decode[matching.Conservation](t, rec)
	assert.True(t, verified.Holds)
	assert.Equal(t, types.NewQuantity(6), verified.Remaining)

	rec = a.do(http.MethodGet, "/api/v1/lines/"+in.ID+"/can-unlink", a.viewer, nil)
	assert.False(t, decode[dto.CanUnlinkResponse](t, rec).CanUnlink)
	rec = a.do(http.MethodDelete, "/api/v1/lines/"+in.ID, a.operator, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/lines/"+out.ID+"/reverse", a.operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "draft", decode[dto.LineResponse](t, rec).State)

	rec = a.do(http.MethodPost, "/api/v1/lines/"+in.ID+"/reverse", a.operator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = a.do(http.MethodDelete, "/api/v1/lines/"+in.ID, a.operator, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/lines/"+in.ID, a.viewer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrackingRoutes(t *testing.T) {
	a := newAPI(t, nil)
	good := id.New()

	rec := a.do(http.MethodPut, "/api/v1/goods/"+good.String()+"/tracking", a.operator, map[string]any{"serialized": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/v1/goods/"+good.String()+"/tracking", a.viewer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr := decode[dto.TrackingResponse](t, rec)
	assert.True(t, tr.Serialized)
	assert.True(t, tr.LotTracked)
}

type fakeIdempotency struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyReplay
	pending map[string]bool
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{entries: map[string]*postgres.IdempotencyReplay{}, pending: map[string]bool{}}
}

func (f *fakeIdempotency) AcquireKey(_ context.Context, key, _, _, _ string) (*postgres.IdempotencyReplay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.entries[key]; ok {
		return r, nil
	}
	if f.pending[key] {
		return nil, apperror.NewIdempotencyConflict(key)
	}
	f.pending[key] = true
	return nil, nil
}

func (f *fakeIdempotency) CompleteKey(_ context.Context, key string, status int, contentType string, response any) error {
	return f.finish(key, status, contentType, response)
}

func (f *fakeIdempotency) FailKey(_ context.Context, key string, status int, contentType string, response any) error {
	return f.finish(key, status, contentType, response)
}

func (f *fakeIdempotency) finish(key string, status int, contentType string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, key)
	f.entries[key] = &postgres.IdempotencyReplay{StatusCode: status, ContentType: contentType, Body: body}
	return nil
}

func TestIdempotentPostIsReplayed(t *testing.T) {
	idem := newFakeIdempotency()
	a := newAPI(t, idem)
	good, wh := id.New(), id.New()

	body := map[string]any{
		"kind": "purchase", "date": feb1,
		"lines": []map[string]any{{"goodId": good.String(), "warehouseId": wh.String(), "quantity": 3, "unitCost": "1"}},
	}
	first := a.do(http.MethodPost, "/api/v1/documents", a.operator, body, "X-Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := a.do(http.MethodPost, "/api/v1/documents", a.operator, body, "X-Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.Equal(t, decode[dto.DocumentResponse](t, first).ID, decode[dto.DocumentResponse](t, second).ID)

	rec := a.do(http.MethodGet, "/api/v1/documents", a.viewer, nil)
	assert.Equal(t, int64(1), decode[dto.ListResponse[dto.DocumentResponse]](t, rec).TotalCount)
}
