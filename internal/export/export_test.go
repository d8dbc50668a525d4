package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

var builtAt = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func testParams() Params {
	return Params{Year: 2025, CohortTag: "Mentors 2025", CampaignCode: "CQVG3W", FundraisingGoal: 75}
}

func testIdentities() []model.Identity {
	return []model.Identity{
		{
			ID: "1001", Phone: "+17065550100", FirstName: "Ada", LastName: "Lovelace",
			PersonalEmail: "ada@example.com", UGAEmail: "ada@uga.edu", ExternalContactID: "555",
			SignedUp: true, SetupComplete: true, AmountRaised: 25, StatusCategory: model.StatusNeedsFundraising,
		},
		{ID: "1002", Phone: "+17065550101", Dropped: true, StatusCategory: model.StatusDropped},
		{ID: "1003", Phone: "+17065550102", Dropped: true, ExternalContactID: "556", StatusCategory: model.StatusDropped},
	}
}

func TestColumns_Contract(t *testing.T) {
	require.Len(t, Columns, 56)
	seen := map[string]bool{}
	for _, c := range Columns {
		assert.False(t, seen[c], "duplicate column %q", c)
		seen[c] = true
	}
	assert.Equal(t, "Givebutter Contact ID", Columns[0])
	assert.Equal(t, "📝 Sign Up Complete", Columns[50])
}

func TestBuild(t *testing.T) {
	rows := Build("run-1", testIdentities(), testParams(), builtAt)
	require.Len(t, rows, 2, "dropped identity without a contact is skipped")

	r := rows[0]
	assert.Equal(t, "1001", r.IdentityID)
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, builtAt, r.BuiltAt)
	assert.Equal(t, "555", r.Values[ColContactID])
	assert.Equal(t, "1001", r.Values[ColExternalID])
	assert.Equal(t, "ada@uga.edu", r.Values[ColAdditionalEmails])
	assert.Equal(t, "25.00", r.Values[ColRaised])
	assert.Equal(t, "75.00", r.Values[ColGoal])
	assert.Equal(t, "Yes", r.Values[ColPageSetup])
	assert.Equal(t, "No", r.Values[ColTrainingComplete])
	assert.Equal(t, "2025", r.Values[ColProgramYear])
	assert.Equal(t, "You have raised $25.00 of your $75.00 goal. Keep sharing your page!", r.Values[ColTextInstructions])

	for k := range r.Values {
		assert.Contains(t, Columns, k)
	}
	assert.Equal(t, "1003", rows[1].IdentityID)
	assert.Empty(t, rows[1].Values[ColTextInstructions])
}

func TestInstructions(t *testing.T) {
	p := testParams()
	assert.Contains(t, Instructions(model.Identity{StatusCategory: model.StatusNeedsSetup}, p), "CQVG3W")
	assert.Equal(t, "Create your fundraising page.", Instructions(model.Identity{StatusCategory: model.StatusNeedsSetup}, Params{}))
	assert.Contains(t, Instructions(model.Identity{StatusCategory: model.StatusNeedsFundraising}, p), "$0.00 of your $75.00")
	assert.Contains(t, Instructions(model.Identity{StatusCategory: model.StatusNeedsTraining}, p), "training")
	assert.NotEmpty(t, Instructions(model.Identity{StatusCategory: model.StatusComplete}, p))
}

func TestWriteCSV_ExcludesBookkeeping(t *testing.T) {
	rows := Build("run-1", testIdentities(), testParams(), builtAt)
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Columns, records[0])
	assert.Len(t, records[1], len(Columns))
	assert.NotContains(t, records[0], "IdentityID")
	assert.NotContains(t, records[1], "run-1")
}

func TestWriteFile_XLSX(t *testing.T) {
	rows := Build("run-1", testIdentities(), testParams(), builtAt)
	path, err := WriteFile(t.TempDir(), "XLSX", 2025, rows)
	require.NoError(t, err)
	assert.Equal(t, "givebutter-contacts-2025.xlsx", filepath.Base(path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, ColContactID, sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "555", sheet.Rows[1].Cells[0].String())
}

func TestWriteFile_CSVAndUnknown(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFile(dir, FormatCSV, 2025, nil)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ColContactID)

	_, err = WriteFile(dir, "json", 2025, nil)
	assert.ErrorContains(t, err, "unknown format")
}
