package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the settings a command mode needs are present.
// Modes: "run", "store", "crm".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		errs = append(errs, c.storeErrors()...)
		errs = append(errs, c.crmErrors()...)
		if c.Jotform.Key == "" {
			errs = append(errs, "jotform.key is required")
		}
	case "store":
		errs = append(errs, c.storeErrors()...)
	case "crm":
		errs = append(errs, c.crmErrors()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Matching.Concurrency < 1 || c.Matching.Concurrency > 64 {
		errs = append(errs, "matching.concurrency must be between 1 and 64")
	}
	if c.Matching.AutoResolveGap < 0 {
		errs = append(errs, "matching.auto_resolve_gap must be >= 0")
	}
	if c.Matching.StaleAfterDays < 0 {
		errs = append(errs, "matching.stale_after_days must be >= 0")
	}
	if c.Archive.MinIntervalMS < 100 {
		errs = append(errs, "archive.min_interval_ms must be >= 100")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) storeErrors() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required"}
		}
	default:
		return []string{"store.driver must be postgres or sqlite"}
	}
	return nil
}

func (c *Config) crmErrors() []string {
	switch c.CRM.Provider {
	case "givebutter":
		if c.Givebutter.Key == "" {
			return []string{"givebutter.key is required"}
		}
	case "salesforce":
		if c.Salesforce.ClientID == "" || c.Salesforce.ClientSecret == "" {
			return []string{"salesforce.client_id and salesforce.client_secret are required"}
		}
	default:
		return []string{"crm.provider must be givebutter or salesforce"}
	}
	return nil
}
