package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/SWAB-ITO/swab-app-sub000/internal/crm"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/givebutter"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/jotform"
	"github.com/SWAB-ITO/swab-app-sub000/pkg/salesforce"
)

// openStore connects to the configured registry and applies migrations.
// Callers close the returned store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initJotform() jotform.Client {
	return jotform.NewClient(cfg.Jotform.Key,
		jotform.WithBaseURL(cfg.Jotform.BaseURL),
		jotform.WithPageSize(cfg.Jotform.PageSize),
		jotform.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Jotform.TimeoutSecs) * time.Second}),
	)
}

// initCRM builds the configured CRM adapter.
func initCRM() (crm.Provider, error) {
	if err := cfg.Validate("crm"); err != nil {
		return nil, err
	}

	switch cfg.CRM.Provider {
	case "salesforce":
		sf, err := salesforce.Connect(cfg.Salesforce.LoginURL, cfg.Salesforce.ClientID, cfg.Salesforce.ClientSecret,
			salesforce.WithRateLimit(cfg.Salesforce.RateLimit))
		if err != nil {
			return nil, eris.Wrap(err, "init salesforce")
		}
		return crm.NewSalesforce(sf), nil
	default:
		gb := givebutter.NewClient(cfg.Givebutter.Key,
			givebutter.WithBaseURL(cfg.Givebutter.BaseURL),
			givebutter.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Givebutter.TimeoutSecs) * time.Second}),
		)
		return crm.NewGivebutter(gb), nil
	}
}
