// Package index builds the per-cycle lookup maps over CRM contacts and
// campaign memberships used by the matcher.
package index

import (
	"sort"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/normalize"
)

// Ambiguity is an external identifier claimed by more than one contact.
// Neither contact is reachable through the identifier map.
type Ambiguity struct {
	ExternalID string
	ContactIDs []string
}

// Index holds O(1) lookups over one cycle's CRM contacts. It is read-only
// after Build and safe for concurrent use.
type Index struct {
	byID         map[string]*model.ExternalContact
	byPhone      map[string][]*model.ExternalContact
	byEmail      map[string][]*model.ExternalContact
	byExternalID map[string]*model.ExternalContact
	byMembership map[string]*model.Membership
	identityOf   map[string]string // membership id -> identity id
	membershipOf map[string]string // identity id -> membership id

	// Ambiguities lists identifiers dropped from the external-id map, in
	// identifier order.
	Ambiguities []Ambiguity
}

// Build indexes contacts and memberships. Archived contacts are skipped.
// Keys are normalized, so callers may pass raw values.
func Build(contacts []model.ExternalContact, members []model.Membership) *Index {
	idx := &Index{
		byID:         make(map[string]*model.ExternalContact, len(contacts)),
		byPhone:      make(map[string][]*model.ExternalContact, len(contacts)),
		byEmail:      make(map[string][]*model.ExternalContact, len(contacts)),
		byExternalID: make(map[string]*model.ExternalContact, len(contacts)),
		byMembership: make(map[string]*model.Membership, len(members)),
		identityOf:   make(map[string]string),
		membershipOf: make(map[string]string),
	}

	sorted := make([]*model.ExternalContact, 0, len(contacts))
	for i := range contacts {
		if contacts[i].Archived {
			continue
		}
		sorted = append(sorted, &contacts[i])
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return model.CompareIDs(sorted[a].ID, sorted[b].ID) < 0
	})

	claims := make(map[string][]string)
	for _, c := range sorted {
		idx.byID[c.ID] = c

		if p := normalize.Phone(c.Phone); p != "" {
			idx.byPhone[p] = append(idx.byPhone[p], c)
		}
		seen := make(map[string]bool, 2)
		for _, e := range []string{c.PrimaryEmail, c.SecondaryEmail} {
			e = normalize.Email(e)
			if e == "" || seen[e] {
				continue
			}
			seen[e] = true
			idx.byEmail[e] = append(idx.byEmail[e], c)
		}
		if c.ExternalID != "" {
			claims[c.ExternalID] = append(claims[c.ExternalID], c.ID)
		}
	}

	for extID, ids := range claims {
		if len(ids) > 1 {
			idx.Ambiguities = append(idx.Ambiguities, Ambiguity{ExternalID: extID, ContactIDs: ids})
			continue
		}
		idx.byExternalID[extID] = idx.byID[ids[0]]
	}
	sort.Slice(idx.Ambiguities, func(a, b int) bool {
		return idx.Ambiguities[a].ExternalID < idx.Ambiguities[b].ExternalID
	})

	for i := range members {
		idx.byMembership[members[i].ID] = &members[i]
	}

	return idx
}

// Contact returns the live contact with the given CRM id.
func (idx *Index) Contact(id string) (*model.ExternalContact, bool) {
	c, ok := idx.byID[id]
	return c, ok
}

// ByPhone returns contacts sharing the phone, in ascending id order.
func (idx *Index) ByPhone(phone string) []*model.ExternalContact {
	return idx.byPhone[normalize.Phone(phone)]
}

// ByEmail returns contacts with the email as primary or secondary address.
func (idx *Index) ByEmail(email string) []*model.ExternalContact {
	return idx.byEmail[normalize.Email(email)]
}

// ByExternalID returns the single contact carrying the identifier.
func (idx *Index) ByExternalID(id string) (*model.ExternalContact, bool) {
	if id == "" {
		return nil, false
	}
	c, ok := idx.byExternalID[id]
	return c, ok
}

// Membership returns the campaign membership with the given id.
func (idx *Index) Membership(id string) (*model.Membership, bool) {
	m, ok := idx.byMembership[id]
	return m, ok
}

// IdentityForMembership returns the identity linked to a membership by
// LinkMemberships.
func (idx *Index) IdentityForMembership(membershipID string) (string, bool) {
	id, ok := idx.identityOf[membershipID]
	return id, ok
}

// Len returns the number of live contacts.
func (idx *Index) Len() int { return len(idx.byID) }

// LinkMemberships precomputes membership id -> identity id, matching by
// normalized email first and phone second. A membership matching several
// identities links to none of them. Identities already carrying a membership
// id keep it.
func (idx *Index) LinkMemberships(identities []model.Identity) {
	byEmail := make(map[string][]string)
	byPhone := make(map[string][]string)
	for _, ident := range identities {
		if ident.MembershipID != "" {
			idx.identityOf[ident.MembershipID] = ident.ID
		}
		for _, e := range []string{ident.PersonalEmail, ident.UGAEmail} {
			if e = normalize.Email(e); e != "" {
				byEmail[e] = appendUnique(byEmail[e], ident.ID)
			}
		}
		if p := normalize.Phone(ident.Phone); p != "" {
			byPhone[p] = appendUnique(byPhone[p], ident.ID)
		}
	}

	for id, m := range idx.byMembership {
		if _, ok := idx.identityOf[id]; ok {
			continue
		}
		if ids := byEmail[normalize.Email(m.Email)]; len(ids) == 1 {
			idx.identityOf[id] = ids[0]
			continue
		}
		if ids := byPhone[normalize.Phone(m.Phone)]; len(ids) == 1 {
			idx.identityOf[id] = ids[0]
		}
	}

	// Several memberships may point at one identity; the lowest id wins so
	// the reverse link is deterministic.
	for mid, iid := range idx.identityOf {
		if _, live := idx.byMembership[mid]; !live {
			continue
		}
		if cur, ok := idx.membershipOf[iid]; !ok || mid < cur {
			idx.membershipOf[iid] = mid
		}
	}
}

// MembershipFor returns the membership linked to an identity, if any.
func (idx *Index) MembershipFor(identityID string) (*model.Membership, bool) {
	mid, ok := idx.membershipOf[identityID]
	if !ok {
		return nil, false
	}
	m, ok := idx.byMembership[mid]
	return m, ok
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
