package matching

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Weights are the points each kind of evidence adds to a candidate
type Weights struct {
	Email    int
	Phone    int
	Username int
	TgUserID int
	Name     int
}

// DefaultWeights ranks platform ids and phones above emails and usernames,
// and a shared name far below any exact signal.
func DefaultWeights() Weights {
	return Weights{
		Email:    60,
		Phone:    65,
		Username: 55,
		TgUserID: 70,
		Name:     20,
	}
}

// candidateScores accumulates evidence per participant id, remembering the
// order in which candidates were first seen.
type candidateScores struct {
	order []string
	byID  map[string]*candidateScore
}

type candidateScore struct {
	candidate models.MatchCandidate
	total     int
}

func newCandidateScores() *candidateScores {
	return &candidateScores{byID: make(map[string]*candidateScore)}
}

func (c *candidateScores) add(p *models.Participant, reason string, weight int) {
	score, ok := c.byID[p.ID]
	if !ok {
		score = &candidateScore{candidate: models.NewMatchCandidate(p)}
		c.byID[p.ID] = score
		c.order = append(c.order, p.ID)
	}
	score.total += weight
	score.candidate.Reasons = append(score.candidate.Reasons, reason)
}

// ranked returns the candidates with capped scores, highest first and ties by id
func (c *candidateScores) ranked() []models.MatchCandidate {
	result := make([]models.MatchCandidate, 0, len(c.order))
	for _, id := range c.order {
		score := c.byID[id]
		candidate := score.candidate
		candidate.Score = min(score.total, models.MaxMatchScore)
		result = append(result, candidate)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// exactReasons credits only the signals that actually equal the row's stored values
func exactReasons(row *models.Participant, query models.SignalQuery, weights Weights) []scoredReason {
	reasons := make([]scoredReason, 0, 4)
	if query.Email != "" && row.Email == query.Email {
		reasons = append(reasons, scoredReason{models.ReasonExactEmail, weights.Email})
	}
	if query.Phone != "" && row.Phone == query.Phone {
		reasons = append(reasons, scoredReason{models.ReasonExactPhone, weights.Phone})
	}
	if query.Username != "" && row.Username == query.Username {
		reasons = append(reasons, scoredReason{models.ReasonSameUsername, weights.Username})
	}
	if query.TgUserID != 0 && row.TgUserID == query.TgUserID {
		reasons = append(reasons, scoredReason{models.ReasonSameTgUserID, weights.TgUserID})
	}
	return reasons
}

type scoredReason struct {
	reason string
	weight int
}
