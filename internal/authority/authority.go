// Package authority decides which source's value a canonical identity keeps
// when sources disagree.
package authority

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
)

// SourceDerived marks values computed by the pipeline from other fields.
const SourceDerived model.Source = "derived"

// Config is the on-disk shape of an authority file.
type Config struct {
	Fields    map[string][]model.Source `yaml:"fields"`
	Immutable []string                  `yaml:"immutable"`
}

// Table maps each field to its ordered authoritative sources.
type Table struct {
	fields    map[string][]model.Source
	immutable map[string]bool
}

// Default returns the built-in authority table. Operator decisions come first
// wherever an operator can settle a mismatch.
func Default() *Table {
	intake := []model.Source{model.SourceIntakeSetup, model.SourceIntakeSignup}
	chain := func(head []model.Source, rest ...model.Source) []model.Source {
		return append(slices.Clone(head), rest...)
	}
	return &Table{
		fields: map[string][]model.Source{
			model.FieldFirstName:         chain(intake, model.SourceRegistry),
			model.FieldLastName:          chain(intake, model.SourceRegistry),
			model.FieldPreferredName:     chain(intake, model.SourceRegistry),
			model.FieldGender:            chain(intake, model.SourceRegistry),
			model.FieldShirtSize:         chain(intake, model.SourceRegistry),
			model.FieldPhone:             chain([]model.Source{model.SourceOperator}, model.SourceIntakeSetup, model.SourceIntakeSignup, model.SourceRegistry),
			model.FieldPersonalEmail:     chain([]model.Source{model.SourceOperator}, model.SourceIntakeSetup, model.SourceIntakeSignup, model.SourceMembership, model.SourceCRM, model.SourceRegistry),
			model.FieldUGAEmail:          chain(intake, model.SourceRegistry),
			model.FieldExternalContactID: {model.SourceOperator, model.SourceCRM},
			model.FieldMembershipID:      {model.SourceMembership, model.SourceRegistry},
			model.FieldSignedUp:          {model.SourceIntakeSignup, model.SourceRegistry},
			model.FieldSetupComplete:     {model.SourceMembership, model.SourceIntakeSetup, model.SourceRegistry},
			model.FieldTrainingComplete:  {model.SourceOperator, model.SourceRegistry},
			model.FieldFundraisingDone:   {model.SourceMembership, model.SourceRegistry},
			model.FieldAmountRaised:      {model.SourceMembership, model.SourceRegistry},
			model.FieldStatusCategory:    {model.SourceOperator, SourceDerived},
		},
		immutable: map[string]bool{
			model.FieldTrainingComplete: true,
		},
	}
}

// Load reads an authority file and layers it over Default. Fields listed in
// the file replace the default chain; immutables are added.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "authority: read %s", path)
	}

	var wrapper struct {
		Authority Config `yaml:"authority"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "authority: parse config")
	}

	t := Default()
	if err := t.apply(wrapper.Authority); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) apply(cfg Config) error {
	for field, sources := range cfg.Fields {
		probe := model.Identity{}
		if !probe.Set(field, "") {
			return eris.Errorf("authority: unknown field %q", field)
		}
		if len(sources) == 0 {
			return eris.Errorf("authority: field %q has no sources", field)
		}
		t.fields[field] = slices.Clone(sources)
	}
	for _, f := range cfg.Immutable {
		t.immutable[f] = true
	}
	return nil
}

// Sources returns the ordered sources for field.
func (t *Table) Sources(field string) []model.Source {
	return slices.Clone(t.fields[field])
}

// Immutable reports whether field keeps its existing value once set.
func (t *Table) Immutable(field string) bool { return t.immutable[field] }

// Resolve picks a value for field. An immutable field with a non-empty
// existing value keeps it. Otherwise the first source in order with a
// non-empty candidate wins. SourceRegistry in a chain stands for the existing
// value. When nothing matches the result is empty, except for fields the
// table does not know, which keep existing.
func (t *Table) Resolve(field, existing string, candidates map[model.Source]string) (string, model.Source) {
	if t.immutable[field] && existing != "" {
		return existing, model.SourceRegistry
	}
	chain, ok := t.fields[field]
	if !ok {
		return existing, model.SourceRegistry
	}
	for _, src := range chain {
		if src == model.SourceRegistry {
			if existing != "" {
				return existing, model.SourceRegistry
			}
			continue
		}
		if v := candidates[src]; v != "" {
			return v, src
		}
	}
	return "", ""
}
