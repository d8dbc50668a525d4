package conflict

import (
	"slices"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/normalize"
)

// Pins are operator decisions replayed into later runs so a resolved
// conflict stays resolved.
type Pins struct {
	// Contact maps identity id to the contact the operator chose for it.
	Contact map[string]string
	// Blocked maps identity id to contacts it must not be linked to.
	Blocked map[string]map[string]bool
	// Fields maps identity id to operator-chosen field values.
	Fields map[string]map[string]string
}

// NewPins returns empty pins.
func NewPins() Pins {
	return Pins{
		Contact: make(map[string]string),
		Blocked: make(map[string]map[string]bool),
		Fields:  make(map[string]map[string]string),
	}
}

// IsBlocked reports whether identityID may not link to contactID.
func (p Pins) IsBlocked(identityID, contactID string) bool {
	return p.Blocked[identityID][contactID]
}

func (p Pins) block(identityID, contactID string) {
	m := p.Blocked[identityID]
	if m == nil {
		m = make(map[string]bool)
		p.Blocked[identityID] = m
	}
	m[contactID] = true
	if p.Contact[identityID] == contactID {
		delete(p.Contact, identityID)
	}
}

func (p Pins) setField(identityID, field, value string) {
	m := p.Fields[identityID]
	if m == nil {
		m = make(map[string]string)
		p.Fields[identityID] = m
	}
	m[field] = value
}

// BuildPins replays resolved conflicts oldest first, so a later decision on
// the same subject overrides an earlier one. Pending and skipped conflicts
// contribute nothing.
func BuildPins(conflicts []model.Conflict) Pins {
	resolved := make([]model.Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		if c.Status == model.ConflictResolved && c.Decision != nil {
			resolved = append(resolved, c)
		}
	}
	slices.SortStableFunc(resolved, func(a, b model.Conflict) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	pins := NewPins()
	for _, c := range resolved {
		chosen, err := c.Chosen(*c.Decision)
		if err != nil {
			continue
		}
		switch p := c.Payload.(type) {
		case model.ContactSelectionPayload:
			pins.Contact[c.SubjectID] = chosen
		case model.PhoneMismatchPayload:
			if v := normalize.Phone(chosen); v != "" {
				pins.setField(c.SubjectID, model.FieldPhone, v)
			}
		case model.EmailMismatchPayload:
			if v := normalize.Email(chosen); v != "" {
				pins.setField(c.SubjectID, model.FieldPersonalEmail, v)
			}
		case model.CollisionPayload:
			for _, id := range p.IdentityIDs {
				if id != chosen && id != "" {
					pins.block(id, p.ContactID)
				}
			}
			delete(pins.Blocked[chosen], p.ContactID)
			pins.Contact[chosen] = p.ContactID
		}
	}
	return pins
}
