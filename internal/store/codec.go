package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// conflictJSON holds the JSON columns of a conflict row.
type conflictJSON struct {
	optionA, optionB, decision, payload []byte
}

func encodeConflict(c model.Conflict) (conflictJSON, error) {
	var out conflictJSON
	var err error
	if out.optionA, err = json.Marshal(c.OptionA); err != nil {
		return out, eris.Wrap(err, "store: marshal option a")
	}
	if out.optionB, err = json.Marshal(c.OptionB); err != nil {
		return out, eris.Wrap(err, "store: marshal option b")
	}
	if c.Decision != nil {
		if out.decision, err = json.Marshal(c.Decision); err != nil {
			return out, eris.Wrap(err, "store: marshal decision")
		}
	}
	if out.payload, err = model.MarshalPayload(c.Payload); err != nil {
		return out, err
	}
	return out, nil
}

func decodeConflict(c *model.Conflict, js conflictJSON) error {
	if err := json.Unmarshal(js.optionA, &c.OptionA); err != nil {
		return eris.Wrap(err, "store: unmarshal option a")
	}
	if err := json.Unmarshal(js.optionB, &c.OptionB); err != nil {
		return eris.Wrap(err, "store: unmarshal option b")
	}
	if len(js.decision) > 0 {
		c.Decision = &model.Decision{}
		if err := json.Unmarshal(js.decision, c.Decision); err != nil {
			return eris.Wrap(err, "store: unmarshal decision")
		}
	}
	p, err := model.UnmarshalPayload(c.Type, js.payload)
	if err != nil {
		return err
	}
	c.Payload = p
	return nil
}

// filterBuilder assembles a WHERE clause for either placeholder style.
type filterBuilder struct {
	numbered bool // $1 style when true, ? otherwise
	conds    []string
	args     []any
}

func (f *filterBuilder) placeholder() string {
	if f.numbered {
		return fmt.Sprintf("$%d", len(f.args))
	}
	return "?"
}

// add appends a condition; cond contains one %s for the placeholder.
func (f *filterBuilder) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, f.placeholder()))
}

func (f *filterBuilder) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// limit appends a LIMIT clause, defaulting to def when n <= 0.
func (f *filterBuilder) limit(n, def int) string {
	if n <= 0 {
		n = def
	}
	f.args = append(f.args, n)
	return " LIMIT " + f.placeholder()
}

func conflictWhere(f *filterBuilder, filter ConflictFilter) {
	if filter.Status != "" {
		f.add("status = %s", string(filter.Status))
	}
	if filter.Type != "" {
		f.add("type = %s", string(filter.Type))
	}
	if filter.SubjectID != "" {
		f.add("subject_id = %s", filter.SubjectID)
	}
}

func issueWhere(f *filterBuilder, filter IssueFilter) {
	if filter.RunID != "" {
		f.add("run_id = %s", filter.RunID)
	}
	if filter.Kind != "" {
		f.add("kind = %s", string(filter.Kind))
	}
	if filter.Severity != "" {
		f.add("severity = %s", string(filter.Severity))
	}
}
