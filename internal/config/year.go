package config

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
)

// OverrideStore returns operator overrides for a program year, keyed by the
// YearConfig yaml name.
type OverrideStore interface {
	AppConfig(ctx context.Context, year int) (map[string]string, error)
}

// YearProvider resolves year-scoped settings: file/env values first, then
// overrides saved in the registry.
type YearProvider struct {
	years     map[string]YearConfig
	overrides OverrideStore
}

// NewYearProvider creates a YearProvider. overrides may be nil.
func NewYearProvider(cfg *Config, overrides OverrideStore) *YearProvider {
	return &YearProvider{years: cfg.Years, overrides: overrides}
}

// Year returns the settings for the given program year.
func (p *YearProvider) Year(ctx context.Context, year int) (YearConfig, error) {
	yc := p.years[strconv.Itoa(year)]

	if p.overrides != nil {
		kv, err := p.overrides.AppConfig(ctx, year)
		if err != nil {
			return YearConfig{}, eris.Wrapf(err, "config: load overrides for %d", year)
		}
		if err := applyOverrides(&yc, kv); err != nil {
			return YearConfig{}, err
		}
	}

	if yc.SignupFormID == "" {
		return YearConfig{}, eris.Errorf("config: no signup form configured for %d", year)
	}
	if yc.CohortTag == "" {
		yc.CohortTag = "Mentors " + strconv.Itoa(year)
	}
	return yc, nil
}

func applyOverrides(yc *YearConfig, kv map[string]string) error {
	for k, v := range kv {
		switch k {
		case "signup_form_id":
			yc.SignupFormID = v
		case "setup_form_id":
			yc.SetupFormID = v
		case "campaign_code":
			yc.CampaignCode = v
		case "campaign_id":
			yc.CampaignID = v
		case "cohort_tag":
			yc.CohortTag = v
		case "fundraising_goal":
			goal, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return eris.Wrapf(err, "config: parse fundraising_goal override %q", v)
			}
			yc.FundraisingGoal = goal
		}
	}
	return nil
}
