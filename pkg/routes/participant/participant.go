package participant

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/jobs"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Matcher finds participants that may be the same person
type Matcher interface {
	FindMatches(ctx context.Context, intent models.MatchIntent) ([]models.MatchCandidate, error)
	FindDuplicates(ctx context.Context, orgID, participantID string) ([]models.MatchCandidate, error)
}

// Enricher fills missing participant fields
type Enricher interface {
	Enrich(ctx context.Context, req models.EnrichRequest) (*models.EnrichResult, error)
}

// Merger merges participants and resolves merge chains
type Merger interface {
	Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error)
	ResolveCanonical(ctx context.Context, orgID, id string) (*models.Participant, error)
}

// AuditLister reads a participant's audit history
type AuditLister interface {
	List(ctx context.Context, orgID, participantID string) ([]models.AuditEntry, error)
}

// BatchRunner enriches many participants at once
type BatchRunner interface {
	Run(ctx context.Context, reqs []models.EnrichRequest) *jobs.BatchResult
}

// Handler handles participant resolution endpoints
type Handler struct {
	matcher  Matcher
	enricher Enricher
	merger   Merger
	audit    AuditLister
	batch    BatchRunner
	logger   ectologger.Logger
}

// NewHandler creates a new participant handler
func NewHandler(
	matcher Matcher,
	enricher Enricher,
	merger Merger,
	audit AuditLister,
	batch BatchRunner,
	logger ectologger.Logger,
) *Handler {
	return &Handler{
		matcher:  matcher,
		enricher: enricher,
		merger:   merger,
		audit:    audit,
		batch:    batch,
		logger:   logger,
	}
}

// ResolveMatchesRequest carries the contact signals to match. The org comes from X-Tenant-ID.
type ResolveMatchesRequest struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Username  string `json:"username,omitempty"`
	TgUserID  int64  `json:"tg_user_id,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// MatchesResponse lists candidates, highest score first
type MatchesResponse struct {
	Candidates []models.MatchCandidate `json:"candidates"`
}

// EnrichRequest is the enrich request body
type EnrichRequest struct {
	Fields models.ParticipantFields `json:"fields"`
	Source models.AuditSource       `json:"source,omitempty"`
}

// BatchEnrichItem is one participant of a batch enrichment
type BatchEnrichItem struct {
	ParticipantID string                   `json:"participant_id"`
	Fields        models.ParticipantFields `json:"fields"`
}

// BatchEnrichRequest is the batch enrichment request body
type BatchEnrichRequest struct {
	Items  []BatchEnrichItem  `json:"items"`
	Source models.AuditSource `json:"source,omitempty"`
}

// BatchFailure names a participant whose enrichment failed
type BatchFailure struct {
	ParticipantID string `json:"participant_id"`
	Error         string `json:"error"`
	Retryable     bool   `json:"retryable"`
}

// BatchEnrichResponse summarizes a batch. Failed items can be resent as they are.
type BatchEnrichResponse struct {
	Updated    int            `json:"updated"`
	Unchanged  int            `json:"unchanged"`
	Failed     []BatchFailure `json:"failed"`
	DurationMs int64          `json:"duration_ms"`
}

// maxBatchItems bounds a single batch request
const maxBatchItems = 1000

// MergeRequest is the merge request body
type MergeRequest struct {
	CanonicalID string             `json:"canonical_id"`
	AbsorbedID  string             `json:"absorbed_id"`
	Source      models.AuditSource `json:"source,omitempty"`
}

// CanonicalResponse names the record an id resolves to
type CanonicalResponse struct {
	ID          string              `json:"id"`
	CanonicalID string              `json:"canonical_id"`
	Participant *models.Participant `json:"participant"`
}

// AuditResponse lists a participant's audit entries, oldest first
type AuditResponse struct {
	Entries []models.AuditEntry `json:"entries"`
}

// Register registers participant routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/resolve-matches", h.ResolveMatches)
	g.POST("/merge", h.Merge)
	g.POST("/batch-enrich", h.BatchEnrich)
	g.POST("/:id/enrich", h.Enrich)
	g.GET("/:id/duplicates", h.Duplicates)
	g.GET("/:id/canonical", h.Canonical)
	g.GET("/:id/audit", h.Audit)
}

// ResolveMatches ranks existing participants against the posted signals
func (h *Handler) ResolveMatches(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.participant.ResolveMatches")
	defer span.End()

	orgID, err := tenant(ctx)
	if err != nil {
		return err
	}

	var req ResolveMatchesRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	candidates, err := h.matcher.FindMatches(ctx, models.MatchIntent{
		OrgID:     orgID,
		Email:     req.Email,
		Phone:     req.Phone,
		Username:  req.Username,
		TgUserID:  req.TgUserID,
		FullName:  req.FullName,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, MatchesResponse{Candidates: candidates})
}

// Enrich fills the participant's missing fields from the posted values
func (h *Handler) Enrich(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.participant.Enrich")
	defer span.End()

	orgID, err := tenant(ctx)
	if err != nil {
		return err
	}

	var req EnrichRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.enricher.Enrich(ctx, models.EnrichRequest{
		OrgID:         orgID,
		ParticipantID: c.Param("id"),
		Fields:        req.Fields,
		Actor:         actor(ctx, req.Source),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

// BatchEnrich enriches every listed participant independently
func (h *Handler) BatchEnrich(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.participant.BatchEnrich")
	defer span.End()

	orgID, err := tenant(ctx)
	if err != nil {
		return err
	}

	var req BatchEnrichRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Items) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "items must not be empty")
	}
	if len(req.Items) > maxBatchItems {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "at most %d items per batch", maxBatchItems)
	}

	a := actor(ctx, req.Source)
	reqs := make([]models.EnrichRequest, 0, len(req.Items))
	for _, item := range req.Items {
		reqs = append(reqs, models.EnrichRequest{
			OrgID:         orgID,
			ParticipantID: item.ParticipantID,
			Fields:        item.Fields,
			Actor:         a,
		})
	}

	result := h.batch.Run(ctx, reqs)

	resp := BatchEnrichResponse{
		Updated:    result.Updated,
		Unchanged:  result.Unchanged,
		Failed:     make([]BatchFailure, 0, len(result.Failed)),
		DurationMs: result.Duration.Milliseconds(),
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, BatchFailure{
			ParticipantID: f.Request.ParticipantID,
			Error:         f.Err.Error(),
			Retryable:     models.IsRetryable(f.Err),
		})
	}

	return c.JSON(http.StatusOK, resp)
}

// Merge absorbs one participant into another
func (h *Handler) Merge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.participant.Merge")
	defer span.End()

	orgID, err := tenant(ctx)
	if err != nil {
		return err
	}

	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.merger.Merge(ctx, models.MergeRequest{
		OrgID:       orgID,
		CanonicalID: req.CanonicalID,
		AbsorbedID:  req.AbsorbedID,
		Actor:       actor(ctx, req.Source),
	})
	if err != nil {
		return toHTTPError(err)
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"org_id":       orgID,
		"canonical_id": result.CanonicalID,
		"absorbed_id":  result.AbsorbedID,
	}).Info("Merged participants")

	return c.JSON(http.StatusOK, result)
}

// Duplicates lists other active participants that share signals with this one
func (h *Handler) Duplicates(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.participant.Duplicates")
	defer span.End()

	orgID, err := tenant(ctx)
	if err != nil {
		return err
	}

	candidates, err := h.matcher.FindDuplicates(ctx, orgID, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, MatchesResponse{Candidates: candidates})
}

// Canonical follows merged_into to the participant's root record
func (h *Handler) Canonical(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.participant.Canonical")
	defer span.End()

	orgID, err := tenant(ctx)
	if err != nil {
		return err
	}

	id := c.Param("id")
	root, err := h.merger.ResolveCanonical(ctx, orgID, id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, CanonicalResponse{
		ID:          id,
		CanonicalID: root.ID,
		Participant: root,
	})
}

// Audit lists the participant's audit entries
func (h *Handler) Audit(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.participant.Audit")
	defer span.End()

	orgID, err := tenant(ctx)
	if err != nil {
		return err
	}

	entries, err := h.audit.List(ctx, orgID, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, AuditResponse{Entries: entries})
}

func tenant(ctx context.Context) (string, error) {
	orgID := appctx.GetTenantID(ctx)
	if orgID == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "X-Tenant-ID header is required")
	}
	return orgID, nil
}

// actor builds the acting identity from the request headers.
// Requests without X-Actor-Type act as a user.
func actor(ctx context.Context, source models.AuditSource) models.Actor {
	actorType := models.ActorType(appctx.GetActorType(ctx))
	if actorType == "" {
		actorType = models.ActorTypeUser
	}
	if source == "" {
		source = models.AuditSourceManual
	}
	return models.Actor{
		ID:     appctx.GetUserID(ctx),
		Type:   actorType,
		Source: source,
	}
}

// toHTTPError maps domain errors onto HTTP status codes
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, models.ErrValidation):
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		return httperror.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrAlreadyMerged),
		errors.Is(err, models.ErrCycleDetected),
		errors.Is(err, models.ErrCrossOrgMerge),
		errors.Is(err, models.ErrConcurrentModification):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrStoreUnavailable):
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "participant store unavailable")
	default:
		return httperror.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
