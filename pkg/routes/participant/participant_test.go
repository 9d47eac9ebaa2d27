package participant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/memory"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/enrichment"
	"github.com/Ramsey-B/clover/pkg/jobs"
	"github.com/Ramsey-B/clover/pkg/locking"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
)

type testAPI struct {
	t      *testing.T
	e      *echo.Echo
	store  *memory.ParticipantStore
	audits *memory.AuditStore
}

func newTestAPI(t *testing.T, participants ...models.Participant) *testAPI {
	t.Helper()
	store := memory.NewParticipantStore()
	for i := range participants {
		_, err := store.Create(context.Background(), &participants[i])
		require.NoError(t, err)
	}

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	audits := memory.NewAuditStore()
	trail := audit.NewTrail(logger, audits, nil)
	locker := locking.NewKeyedMutex(time.Second)

	enricher := enrichment.NewEnricher(logger, store, trail, locker, nil, enrichment.Config{})
	handler := NewHandler(
		matching.NewEngine(logger, store, matching.DefaultConfig()),
		enricher,
		merging.NewCoordinator(logger, store, trail, locker, nil),
		trail,
		jobs.NewBatchEnricher(logger, enricher, 4),
		logger,
	)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	handler.Register(e.Group("/v1/participants"))

	return &testAPI{t: t, e: e, store: store, audits: audits}
}

func (a *testAPI) do(method, path, tenantID string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if tenantID != "" {
		req.Header.Set(middleware.HeaderTenantID, tenantID)
	}
	req.Header.Set(middleware.HeaderUserID, "user-1")

	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestResolveMatches(t *testing.T) {
	api := newTestAPI(t,
		models.Participant{ID: "a", OrgID: "org-1", Phone: "+79991234567", FullName: "Иван Петров"},
		models.Participant{ID: "b", OrgID: "org-2", Phone: "+79991234567", FullName: "Иван Петров"},
	)

	rec := api.do(http.MethodPost, "/v1/participants/resolve-matches", "org-1", ResolveMatchesRequest{
		Phone:    "89991234567",
		FullName: "Иван",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[MatchesResponse](t, rec)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "a", resp.Candidates[0].ID)
	assert.Equal(t, 85, resp.Candidates[0].Score)
	assert.Equal(t, []string{models.ReasonExactPhone, models.ReasonSimilarName}, resp.Candidates[0].Reasons)
}

func TestResolveMatches_RequiresTenant(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/v1/participants/resolve-matches", "", ResolveMatchesRequest{Phone: "89991234567"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrich(t *testing.T) {
	api := newTestAPI(t, models.Participant{ID: "p-1", OrgID: "org-1", Phone: "+79991234567"})

	rec := api.do(http.MethodPost, "/v1/participants/p-1/enrich", "org-1", EnrichRequest{
		Fields: models.ParticipantFields{Email: "Ivan@Example.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[models.EnrichResult](t, rec)
	assert.Equal(t, []string{models.FieldEmail}, result.UpdatedFields)
	assert.Empty(t, result.AuditWarning)

	entries := api.audits.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "user-1", entries[0].ActorID)
	assert.Equal(t, models.ActorTypeUser, entries[0].ActorType)
	assert.Equal(t, models.AuditSourceManual, entries[0].Source)

	t.Run("repeating the call changes nothing", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/participants/p-1/enrich", "org-1", EnrichRequest{
			Fields: models.ParticipantFields{Email: "ivan@example.com"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[models.EnrichResult](t, rec).UpdatedFields)
		assert.Len(t, api.audits.All(), 1)
	})

	t.Run("unknown participant is 404", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/participants/missing/enrich", "org-1", EnrichRequest{
			Fields: models.ParticipantFields{Email: "ivan@example.com"},
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid source is 400", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/participants/p-1/enrich", "org-1", EnrichRequest{
			Fields: models.ParticipantFields{Username: "ivan"},
			Source: "carrier-pigeon",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestBatchEnrich(t *testing.T) {
	api := newTestAPI(t,
		models.Participant{ID: "a", OrgID: "org-1"},
		models.Participant{ID: "b", OrgID: "org-1", Email: "b@example.com"},
	)

	rec := api.do(http.MethodPost, "/v1/participants/batch-enrich", "org-1", BatchEnrichRequest{
		Items: []BatchEnrichItem{
			{ParticipantID: "a", Fields: models.ParticipantFields{Email: "a@example.com"}},
			{ParticipantID: "b", Fields: models.ParticipantFields{Email: "b@example.com"}},
			{ParticipantID: "zzz", Fields: models.ParticipantFields{Email: "z@example.com"}},
		},
		Source: models.AuditSourceCron,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[BatchEnrichResponse](t, rec)
	assert.Equal(t, 1, resp.Updated)
	assert.Equal(t, 1, resp.Unchanged)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "zzz", resp.Failed[0].ParticipantID)
	assert.False(t, resp.Failed[0].Retryable)

	entries := api.audits.All()
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditSourceCron, entries[0].Source)

	rec = api.do(http.MethodPost, "/v1/participants/batch-enrich", "org-1", BatchEnrichRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMerge(t *testing.T) {
	api := newTestAPI(t,
		models.Participant{ID: "a", OrgID: "org-1", Phone: "+79991234567"},
		models.Participant{ID: "b", OrgID: "org-1", Email: "ivan@example.com"},
		models.Participant{ID: "c", OrgID: "org-2"},
	)

	rec := api.do(http.MethodPost, "/v1/participants/merge", "org-1", MergeRequest{CanonicalID: "a", AbsorbedID: "b"})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[models.MergeResult](t, rec)
	assert.Equal(t, "a", result.CanonicalID)
	assert.Equal(t, []string{models.FieldEmail}, result.MergedFields)

	cases := []struct {
		name string
		req  MergeRequest
		code int
	}{
		{"already merged", MergeRequest{CanonicalID: "a", AbsorbedID: "b"}, http.StatusConflict},
		{"self merge", MergeRequest{CanonicalID: "a", AbsorbedID: "a"}, http.StatusBadRequest},
		{"missing ids", MergeRequest{CanonicalID: "a"}, http.StatusBadRequest},
		{"unknown participant", MergeRequest{CanonicalID: "a", AbsorbedID: "zzz"}, http.StatusNotFound},
		{"other org", MergeRequest{CanonicalID: "a", AbsorbedID: "c"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, "/v1/participants/merge", "org-1", tc.req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestCanonicalAndAudit(t *testing.T) {
	api := newTestAPI(t,
		models.Participant{ID: "a", OrgID: "org-1"},
		models.Participant{ID: "b", OrgID: "org-1", Email: "ivan@example.com"},
	)
	require.Equal(t, http.StatusOK,
		api.do(http.MethodPost, "/v1/participants/merge", "org-1", MergeRequest{CanonicalID: "a", AbsorbedID: "b"}).Code)

	rec := api.do(http.MethodGet, "/v1/participants/b/canonical", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	canonical := decode[CanonicalResponse](t, rec)
	assert.Equal(t, "b", canonical.ID)
	assert.Equal(t, "a", canonical.CanonicalID)
	assert.Equal(t, "ivan@example.com", canonical.Participant.Email)

	rec = api.do(http.MethodGet, "/v1/participants/b/audit", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[AuditResponse](t, rec).Entries
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionMerge, entries[0].Action)
	assert.Equal(t, "a", entries[0].FieldChanges[models.FieldMergedInto])

	rec = api.do(http.MethodGet, "/v1/participants/zzz/canonical", "org-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuplicates(t *testing.T) {
	api := newTestAPI(t,
		models.Participant{ID: "a", OrgID: "org-1", Phone: "+79991234567"},
		models.Participant{ID: "b", OrgID: "org-1", Phone: "+79991234567"},
		models.Participant{ID: "c", OrgID: "org-1", Phone: "+79990000000"},
	)

	rec := api.do(http.MethodGet, "/v1/participants/a/duplicates", "org-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	candidates := decode[MatchesResponse](t, rec).Candidates
	require.Len(t, candidates, 1)
	assert.Equal(t, "b", candidates[0].ID)
}

func TestStoreUnavailable(t *testing.T) {
	api := newTestAPI(t, models.Participant{ID: "a", OrgID: "org-1"})
	api.store.FailOn("ListMergeChainFrom", models.ErrStoreUnavailable)

	rec := api.do(http.MethodGet, "/v1/participants/a/canonical", "org-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestToHTTPError(t *testing.T) {
	cases := map[error]int{
		models.ErrValidation:             http.StatusBadRequest,
		models.ErrNotFound:               http.StatusNotFound,
		models.ErrAlreadyMerged:          http.StatusConflict,
		models.ErrCycleDetected:          http.StatusConflict,
		models.ErrCrossOrgMerge:          http.StatusConflict,
		models.ErrConcurrentModification: http.StatusConflict,
		models.ErrStoreUnavailable:       http.StatusServiceUnavailable,
		models.ErrQueryFailed:            http.StatusInternalServerError,
		errors.New("boom"):               http.StatusInternalServerError,
	}
	for err, code := range cases {
		rec := httptest.NewRecorder()
		e := echo.New()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		middleware.Error(logger)(toHTTPError(err), c)
		assert.Equal(t, code, rec.Code, err.Error())
	}
}
