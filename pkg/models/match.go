package models

// Match reasons. The labels are shown to operators as-is.
const (
	ReasonExactEmail   = "Точный e-mail"
	ReasonExactPhone   = "Точный телефон"
	ReasonSameUsername = "Совпадает username"
	ReasonSameTgUserID = "Совпадает Telegram ID"
	ReasonSimilarName  = "Похожее имя"
)

// MaxMatchScore caps the aggregate score of a candidate
const MaxMatchScore = 100

// MatchIntent is the set of contact signals to resolve against an org
type MatchIntent struct {
	OrgID     string `json:"org_id" validate:"required"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Username  string `json:"username,omitempty"`
	TgUserID  int64  `json:"tg_user_id,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// MatchCandidate is an existing active participant that may be the same person
type MatchCandidate struct {
	ID        string   `json:"id"`
	OrgID     string   `json:"org_id"`
	FullName  string   `json:"full_name,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Username  string   `json:"username,omitempty"`
	TgUserID  int64    `json:"tg_user_id,omitempty"`
	Source    string   `json:"source,omitempty"`
	Status    string   `json:"status,omitempty"`
	Score     int      `json:"match_score"`
	Reasons   []string `json:"reasons"`
}

// NewMatchCandidate copies the contact fields of a participant into a candidate with no score
func NewMatchCandidate(p *Participant) MatchCandidate {
	return MatchCandidate{
		ID:        p.ID,
		OrgID:     p.OrgID,
		FullName:  p.FullName,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone,
		Username:  p.Username,
		TgUserID:  p.TgUserID,
		Source:    p.Source,
		Status:    p.Status,
		Reasons:   []string{},
	}
}

// SignalQuery holds the normalized exact signals for a disjunctive lookup.
// Empty values are not part of the query.
type SignalQuery struct {
	Email    string
	Phone    string
	Username string
	TgUserID int64
}

// IsEmpty reports whether no signal is set
func (q SignalQuery) IsEmpty() bool {
	return q.Email == "" && q.Phone == "" && q.Username == "" && q.TgUserID == 0
}
