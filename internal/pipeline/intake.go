package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/normalize"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/jotform"
)

// Question names accepted for each intake field, most specific first. The
// signup and setup forms have been rebuilt across program years, so older
// names stay listed.
var (
	mentorIDQuestions  = []string{"mentorId", "mentor_id", "ugaId", "uga_id", "id"}
	nameQuestions      = []string{"name", "fullName", "mentorName"}
	firstNameQuestions = []string{"firstName", "first_name"}
	lastNameQuestions  = []string{"lastName", "last_name"}
	preferredQuestions = []string{"preferredName", "preferred_name", "prefName"}
	phoneQuestions     = []string{"phone", "phoneNumber", "cellPhone", "mobile"}
	personalQuestions  = []string{"personalEmail", "personal_email", "email"}
	ugaEmailQuestions  = []string{"ugaEmail", "uga_email", "schoolEmail"}
	genderQuestions    = []string{"gender"}
	shirtQuestions     = []string{"shirtSize", "shirt_size", "tshirtSize"}
)

func answer(s jotform.Submission, names []string) string {
	a, ok := s.Answer(names...)
	if !ok {
		return ""
	}
	return a.String()
}

// intakeFromSubmission normalizes one form submission. An empty phone or
// mentor id is left empty for validation to handle.
func intakeFromSubmission(s jotform.Submission, src model.Source) model.IntakeSubmission {
	rec := model.IntakeSubmission{
		SubmissionID:  s.ID,
		FormID:        s.FormID,
		Source:        src,
		MentorID:      strings.TrimSpace(answer(s, mentorIDQuestions)),
		PreferredName: normalize.Name(answer(s, preferredQuestions)),
		Phone:         normalize.Phone(answer(s, phoneQuestions)),
		PersonalEmail: normalize.Email(answer(s, personalQuestions)),
		UGAEmail:      normalize.Email(answer(s, ugaEmailQuestions)),
		Gender:        normalize.Name(answer(s, genderQuestions)),
		ShirtSize:     strings.ToUpper(normalize.Name(answer(s, shirtQuestions))),
		SubmittedAt:   s.CreatedAt,
	}

	if a, ok := s.Answer(nameQuestions...); ok {
		rec.FirstName = normalize.Name(a.Part("first"))
		rec.LastName = normalize.Name(a.Part("last"))
	}
	if rec.FirstName == "" {
		rec.FirstName = normalize.Name(answer(s, firstNameQuestions))
	}
	if rec.LastName == "" {
		rec.LastName = normalize.Name(answer(s, lastNameQuestions))
	}
	return rec
}

// encodeRaw turns records into raw rows keyed by id.
func encodeRaw[T any](src model.Source, year int, items []T, id func(T) string) ([]store.RawRecord, error) {
	out := make([]store.RawRecord, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: encode %s record %s", src, id(it))
		}
		out = append(out, store.RawRecord{Source: src, Year: year, RecordID: id(it), Data: data})
	}
	return out, nil
}

func decodeRaw[T any](records []store.RawRecord) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := json.Unmarshal(r.Data, &v); err != nil {
			return nil, eris.Wrapf(err, "pipeline: decode %s record %s", r.Source, r.RecordID)
		}
		out = append(out, v)
	}
	return out, nil
}
