// Package matching ranks existing participants that may be the same person as an incoming signal
package matching

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	passExact = "exact"
	passFuzzy = "fuzzy"
)

// Engine implements participant matching. It only scores; it never merges.
type Engine struct {
	logger ectologger.Logger
	repo   models.ParticipantRepository
	config EngineConfig
}

// EngineConfig contains configuration for the match engine
type EngineConfig struct {
	MinNameLength int // Minimum full name length in runes for the fuzzy pass (default: 3)
	MaxCandidates int // Maximum candidates returned per call (default: 50)
	Weights       Weights
}

// DefaultConfig returns default engine configuration
func DefaultConfig() EngineConfig {
	return EngineConfig{
		MinNameLength: 3,
		MaxCandidates: 50,
		Weights:       DefaultWeights(),
	}
}

// NewEngine creates a new match engine
func NewEngine(logger ectologger.Logger, repo models.ParticipantRepository, config EngineConfig) *Engine {
	if config.MinNameLength <= 0 {
		config.MinNameLength = DefaultConfig().MinNameLength
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultConfig().MaxCandidates
	}
	if config.Weights == (Weights{}) {
		config.Weights = DefaultWeights()
	}
	return &Engine{
		logger: logger,
		repo:   repo,
		config: config,
	}
}

// normalizedIntent is a MatchIntent with every signal in stored form
type normalizedIntent struct {
	signals  models.SignalQuery
	fullName string
}

func normalizeIntent(intent models.MatchIntent) normalizedIntent {
	return normalizedIntent{
		signals: models.SignalQuery{
			Email:    normalizers.Field(models.FieldEmail, intent.Email),
			Phone:    normalizers.Field(models.FieldPhone, intent.Phone),
			Username: normalizers.Field(models.FieldUsername, intent.Username),
			TgUserID: intent.TgUserID,
		},
		fullName: normalizers.BuildFullName(intent.FirstName, intent.LastName, intent.FullName),
	}
}

// FindMatches returns active participants of the intent's org that share a
// signal or a name term with it, highest score first. Each candidate carries
// the reasons behind its score.
//
// The exact and fuzzy passes are independent: a failed pass is logged and
// the other pass's candidates are still returned. Store unavailability is
// returned as an error, as is the failure of every pass that ran.
func (e *Engine) FindMatches(ctx context.Context, intent models.MatchIntent) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindMatches")
	defer span.End()

	if intent.OrgID == "" {
		metrics.MatchRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: org_id is required", models.ErrValidation)
	}

	n := normalizeIntent(intent)
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"org_id":     intent.OrgID,
		"email":      n.signals.Email,
		"phone":      n.signals.Phone,
		"username":   n.signals.Username,
		"tg_user_id": n.signals.TgUserID,
		"full_name":  n.fullName,
	})
	log.Debug("Finding matches")

	scores := newCandidateScores()
	attempted, failed := 0, 0
	var lastErr error

	if !n.signals.IsEmpty() {
		attempted++
		if err := e.exactPass(ctx, intent.OrgID, n.signals, scores); err != nil {
			if errors.Is(err, models.ErrStoreUnavailable) {
				metrics.MatchRequestsTotal.WithLabelValues("error").Inc()
				tracing.RecordError(span, err)
				return nil, err
			}
			failed++
			lastErr = err
			metrics.MatchPassFailuresTotal.WithLabelValues(passExact).Inc()
			log.WithError(err).Warn("Exact match pass failed, continuing")
		}
	}

	if utf8.RuneCountInString(n.fullName) >= e.config.MinNameLength {
		if terms := normalizers.NameTerms(n.fullName); len(terms) > 0 {
			attempted++
			if err := e.fuzzyPass(ctx, intent.OrgID, terms, scores); err != nil {
				if errors.Is(err, models.ErrStoreUnavailable) {
					metrics.MatchRequestsTotal.WithLabelValues("error").Inc()
					tracing.RecordError(span, err)
					return nil, err
				}
				failed++
				lastErr = err
				metrics.MatchPassFailuresTotal.WithLabelValues(passFuzzy).Inc()
				log.WithError(err).Warn("Fuzzy match pass failed, continuing")
			}
		}
	}

	if attempted > 0 && failed == attempted {
		metrics.MatchRequestsTotal.WithLabelValues("error").Inc()
		tracing.RecordError(span, lastErr)
		return nil, lastErr
	}

	candidates := scores.ranked()
	if len(candidates) > e.config.MaxCandidates {
		candidates = candidates[:e.config.MaxCandidates]
	}

	metrics.MatchRequestsTotal.WithLabelValues("ok").Inc()
	metrics.MatchCandidatesReturned.Observe(float64(len(candidates)))
	log.WithFields(map[string]any{"match_count": len(candidates)}).Debug("Found matches")

	return candidates, nil
}

// exactPass runs one disjunctive query over every present signal
func (e *Engine) exactPass(ctx context.Context, orgID string, signals models.SignalQuery, scores *candidateScores) error {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.exactPass")
	defer span.End()

	rows, err := e.repo.FindByOrgAndSignals(ctx, orgID, signals)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("exact pass: %w", err)
	}

	for i := range rows {
		// merged records are excluded by the query itself
		for _, r := range exactReasons(&rows[i], signals, e.config.Weights) {
			scores.add(&rows[i], r.reason, r.weight)
		}
	}
	return nil
}

// fuzzyPass credits a flat name weight once per row whose name contains any term
func (e *Engine) fuzzyPass(ctx context.Context, orgID string, terms []string, scores *candidateScores) error {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.fuzzyPass")
	defer span.End()

	rows, err := e.repo.FindByOrgAndNameSubstring(ctx, orgID, terms)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("fuzzy pass: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	for i := range rows {
		if seen[rows[i].ID] {
			continue
		}
		seen[rows[i].ID] = true
		scores.add(&rows[i], models.ReasonSimilarName, e.config.Weights.Name)
	}
	return nil
}

// FindDuplicates matches a participant's own signals against the rest of its org
func (e *Engine) FindDuplicates(ctx context.Context, orgID, participantID string) ([]models.MatchCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindDuplicates")
	defer span.End()
	tracing.SetParticipant(span, orgID, participantID)

	if orgID == "" || participantID == "" {
		return nil, fmt.Errorf("%w: org_id and participant_id are required", models.ErrValidation)
	}

	p, err := e.repo.GetByID(ctx, orgID, participantID)
	if err != nil {
		return nil, err
	}
	if p.IsMerged() {
		return []models.MatchCandidate{}, nil
	}

	candidates, err := e.FindMatches(ctx, models.MatchIntent{
		OrgID:     orgID,
		Email:     p.Email,
		Phone:     p.Phone,
		Username:  p.Username,
		TgUserID:  p.TgUserID,
		FullName:  p.FullName,
		FirstName: p.FirstName,
		LastName:  p.LastName,
	})
	if err != nil {
		return nil, err
	}

	duplicates := make([]models.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ID != p.ID {
			duplicates = append(duplicates, c)
		}
	}
	return duplicates, nil
}
