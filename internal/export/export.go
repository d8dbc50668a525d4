package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// Formats supported by Write.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Params are the year-scoped values rendered into every row.
type Params struct {
	Year            int
	CohortTag       string
	CampaignCode    string
	FundraisingGoal float64
}

// Build renders one row per exportable identity, in input order. Dropped
// identities with no CRM contact are skipped since there is nothing to
// update.
func Build(runID string, identities []model.Identity, p Params, at time.Time) []model.ExportRow {
	rows := make([]model.ExportRow, 0, len(identities))
	for _, id := range identities {
		if id.Dropped && id.ExternalContactID == "" {
			continue
		}
		rows = append(rows, model.ExportRow{
			IdentityID: id.ID,
			RunID:      runID,
			BuiltAt:    at,
			Values:     values(id, p, at),
		})
	}
	return rows
}

func values(id model.Identity, p Params, at time.Time) map[string]string {
	v := map[string]string{
		ColContactID:         id.ExternalContactID,
		ColExternalID:        id.ID,
		ColFirstName:         id.FirstName,
		ColLastName:          id.LastName,
		ColGender:            id.Gender,
		ColPrimaryEmail:      id.PersonalEmail,
		ColPrimaryPhone:      id.Phone,
		ColTags:              p.CohortTag,
		ColEmailSubscription: "yes",
		ColPhoneSubscription: "yes",
		ColPreferredName:     id.PreferredName,
		ColUGAEmail:          id.UGAEmail,
		ColShirtSize:         id.ShirtSize,
		ColMentorID:          id.ID,
		ColMemberID:          id.MembershipID,
		ColGoal:              model.FormatAmount(p.FundraisingGoal),
		ColRaised:            model.FormatAmount(id.AmountRaised),
		ColStatusCategory:    id.StatusCategory,
		ColTextInstructions:  Instructions(id, p),
		ColSignUpComplete:    yesNo(id.SignedUp),
		ColPageSetup:         yesNo(id.SetupComplete),
		ColTrainingComplete:  yesNo(id.TrainingComplete),
		ColFundraisingDone:   yesNo(id.FundraisingDone),
		ColProgramYear:       strconv.Itoa(p.Year),
		ColLastSynced:        at.UTC().Format(time.RFC3339),
	}
	if id.UGAEmail != "" && id.UGAEmail != id.PersonalEmail {
		v[ColAdditionalEmails] = id.UGAEmail
	}
	return v
}

// Instructions is the participant-facing next step for the identity's status.
func Instructions(id model.Identity, p Params) string {
	switch id.StatusCategory {
	case model.StatusNeedsSetup:
		if p.CampaignCode != "" {
			return fmt.Sprintf("Create your fundraising page by joining campaign %s.", p.CampaignCode)
		}
		return "Create your fundraising page."
	case model.StatusNeedsFundraising:
		return fmt.Sprintf("You have raised $%s of your $%s goal. Keep sharing your page!",
			orZero(model.FormatAmount(id.AmountRaised)), orZero(model.FormatAmount(p.FundraisingGoal)))
	case model.StatusNeedsTraining:
		return "Sign up for and complete mentor training."
	case model.StatusComplete:
		return "You're all set. Thank you for mentoring!"
	default:
		return ""
	}
}

func orZero(s string) string {
	if s == "" {
		return "0.00"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Record lays a row's values out in column order. Bookkeeping fields are not
// part of the record.
func Record(r model.ExportRow) []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = r.Values[c]
	}
	return out
}

// WriteCSV writes the header and rows as CSV.
func WriteCSV(w io.Writer, rows []model.ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, r := range rows {
		if err := cw.Write(Record(r)); err != nil {
			return eris.Wrap(err, "export: write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return nil
}

// WriteXLSX writes the header and rows to a single-sheet workbook at path.
func WriteXLSX(path string, rows []model.ExportRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Contacts")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	addRow(sheet, Columns)
	for _, r := range rows {
		addRow(sheet, Record(r))
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

// WriteFile writes rows to dir in the given format and returns the file
// path. The file name carries the program year.
func WriteFile(dir, format string, year int, rows []model.ExportRow) (string, error) {
	format = strings.ToLower(format)
	path := filepath.Join(dir, fmt.Sprintf("givebutter-contacts-%d.%s", year, format))

	switch format {
	case FormatCSV:
		f, err := os.Create(path)
		if err != nil {
			return "", eris.Wrap(err, "export: create file")
		}
		if err := WriteCSV(f, rows); err != nil {
			_ = f.Close()
			return "", err
		}
		if err := f.Close(); err != nil {
			return "", eris.Wrap(err, "export: close file")
		}
	case FormatXLSX:
		if err := WriteXLSX(path, rows); err != nil {
			return "", err
		}
	default:
		return "", eris.Errorf("export: unknown format %q", format)
	}
	return path, nil
}
