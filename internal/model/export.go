package model

import "time"

// ExportRow is one participant's row in the CRM bulk-import file. Values is
// keyed by export column name; IdentityID, RunID and BuiltAt are bookkeeping
// and never written to the file.
type ExportRow struct {
	IdentityID string            `json:"identity_id"`
	RunID      string            `json:"run_id"`
	BuiltAt    time.Time         `json:"built_at"`
	Values     map[string]string `json:"values"`
}
