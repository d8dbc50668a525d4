// Package scorer ranks duplicate CRM contacts for one participant. The same
// score decides automatic winners and is shown to operators in conflicts.
package scorer

import (
	"sort"
	"strings"
	"time"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// Score component weights.
const (
	RetiredWeight        = 1000
	CohortWeight         = 500
	RecencyMax           = 100
	PhoneWeight          = 50
	PrimaryEmailWeight   = 30
	SecondaryEmailWeight = 20
	AddressWeight        = 20
	MembershipWeight     = 30
)

// Config parameterizes the tags the scorer looks for.
type Config struct {
	RetiredTag string
	CohortTag  string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Breakdown holds each component of a contact's score.
type Breakdown struct {
	Retired        int `json:"retired"`
	Cohort         int `json:"cohort"`
	Recency        int `json:"recency"`
	Phone          int `json:"phone"`
	PrimaryEmail   int `json:"primary_email"`
	SecondaryEmail int `json:"secondary_email"`
	Address        int `json:"address"`
	Membership     int `json:"membership"`
}

// Total sums the components.
func (b Breakdown) Total() int {
	return b.Retired + b.Cohort + b.Recency + b.Phone + b.PrimaryEmail +
		b.SecondaryEmail + b.Address + b.Membership
}

// Completeness names the contact attributes that scored, for display.
func (b Breakdown) Completeness() []string {
	var out []string
	if b.Phone > 0 {
		out = append(out, "phone")
	}
	if b.PrimaryEmail > 0 {
		out = append(out, "primary_email")
	}
	if b.SecondaryEmail > 0 {
		out = append(out, "secondary_email")
	}
	if b.Address > 0 {
		out = append(out, "address")
	}
	return out
}

// Scored is a contact with its computed score.
type Scored struct {
	Contact   *model.ExternalContact
	Score     int
	Breakdown Breakdown
}

// Scorer computes duplicate scores. It holds no mutable state and is safe
// for concurrent use.
type Scorer struct {
	cfg Config
}

// New creates a Scorer.
func New(cfg Config) *Scorer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.RetiredTag = strings.TrimSpace(cfg.RetiredTag)
	cfg.CohortTag = strings.TrimSpace(cfg.CohortTag)
	return &Scorer{cfg: cfg}
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Breakdown scores each component for c.
func (s *Scorer) Breakdown(c *model.ExternalContact) Breakdown {
	var b Breakdown
	if c.HasTag(s.cfg.RetiredTag) {
		b.Retired = RetiredWeight
	}
	if c.HasTag(s.cfg.CohortTag) {
		b.Cohort = CohortWeight
	}
	b.Recency = recency(s.cfg.Now(), c.LastModified)
	if c.Phone != "" {
		b.Phone = PhoneWeight
	}
	if c.PrimaryEmail != "" {
		b.PrimaryEmail = PrimaryEmailWeight
	}
	if c.SecondaryEmail != "" {
		b.SecondaryEmail = SecondaryEmailWeight
	}
	if c.HasAddress {
		b.Address = AddressWeight
	}
	if c.MembershipID != "" {
		b.Membership = MembershipWeight
	}
	return b
}

// Score returns the total score for c.
func (s *Scorer) Score(c *model.ExternalContact) int {
	return s.Breakdown(c).Total()
}

// Rank scores candidates and orders them best first. Equal scores fall back
// to the higher contact id, which is the more recently created record.
func (s *Scorer) Rank(candidates []*model.ExternalContact) []Scored {
	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		b := s.Breakdown(c)
		out[i] = Scored{Contact: c, Score: b.Total(), Breakdown: b}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return model.CompareIDs(out[i].Contact.ID, out[j].Contact.ID) > 0
	})
	return out
}

// recency awards up to RecencyMax points, one fewer per whole day since the
// last modification. Future timestamps count as today.
func recency(now, modified time.Time) int {
	if modified.IsZero() {
		return 0
	}
	days := int(now.Sub(modified).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return max(0, RecencyMax-days)
}
