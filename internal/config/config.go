package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig           `yaml:"store" mapstructure:"store"`
	Jotform    JotformConfig         `yaml:"jotform" mapstructure:"jotform"`
	Givebutter GivebutterConfig      `yaml:"givebutter" mapstructure:"givebutter"`
	Salesforce SalesforceConfig      `yaml:"salesforce" mapstructure:"salesforce"`
	CRM        CRMConfig             `yaml:"crm" mapstructure:"crm"`
	Program    ProgramConfig         `yaml:"program" mapstructure:"program"`
	Years      map[string]YearConfig `yaml:"years" mapstructure:"years"`
	Matching   MatchingConfig        `yaml:"matching" mapstructure:"matching"`
	Changes    ChangesConfig         `yaml:"changes" mapstructure:"changes"`
	Archive    ArchiveConfig         `yaml:"archive" mapstructure:"archive"`
	Authority  AuthorityConfig       `yaml:"authority" mapstructure:"authority"`
	Export     ExportConfig          `yaml:"export" mapstructure:"export"`
	Metrics    MetricsConfig         `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig             `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the registry database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JotformConfig configures the forms-intake client.
type JotformConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
}

// GivebutterConfig configures the donor CRM client.
type GivebutterConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SalesforceConfig holds Salesforce OAuth credentials for the alternative CRM
// adapter.
type SalesforceConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	LoginURL     string  `yaml:"login_url" mapstructure:"login_url"`
	CampaignTag  string  `yaml:"campaign_tag" mapstructure:"campaign_tag"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// CRMConfig selects the CRM adapter.
type CRMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // "givebutter" or "salesforce"
}

// ProgramConfig names the active program year.
type ProgramConfig struct {
	Year int `yaml:"year" mapstructure:"year"`
}

// YearConfig holds the year-scoped values the pipeline takes as parameters.
type YearConfig struct {
	SignupFormID    string  `yaml:"signup_form_id" mapstructure:"signup_form_id"`
	SetupFormID     string  `yaml:"setup_form_id" mapstructure:"setup_form_id"`
	CampaignCode    string  `yaml:"campaign_code" mapstructure:"campaign_code"`
	CampaignID      string  `yaml:"campaign_id" mapstructure:"campaign_id"`
	FundraisingGoal float64 `yaml:"fundraising_goal" mapstructure:"fundraising_goal"`
	CohortTag       string  `yaml:"cohort_tag" mapstructure:"cohort_tag"`
}

// MatchingConfig tunes contact matching and conflict decisions.
type MatchingConfig struct {
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	AutoResolveGap int    `yaml:"auto_resolve_gap" mapstructure:"auto_resolve_gap"`
	StaleAfterDays int    `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	RetiredTag     string `yaml:"retired_tag" mapstructure:"retired_tag"`
}

// ChangesConfig lists the audited identity fields.
type ChangesConfig struct {
	Tracked     []string `yaml:"tracked" mapstructure:"tracked"`
	Significant []string `yaml:"significant" mapstructure:"significant"`
	Ignored     []string `yaml:"ignored" mapstructure:"ignored"`
}

// ArchiveConfig configures duplicate archival in the CRM.
type ArchiveConfig struct {
	Enabled       bool `yaml:"enabled" mapstructure:"enabled"`
	MinIntervalMS int  `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// AuthorityConfig points at an optional field-authority override file.
type AuthorityConfig struct {
	File string `yaml:"file" mapstructure:"file"`
}

// ExportConfig configures the CRM import export.
type ExportConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"` // "csv" or "xlsx"
}

// MetricsConfig configures the node-exporter textfile written after each run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SWAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// envOnlyKeys have no default, so AutomaticEnv alone never surfaces them to
// Unmarshal. Credentials usually arrive this way.
var envOnlyKeys = []string{
	"store.database_url",
	"jotform.key",
	"givebutter.key",
	"salesforce.client_id",
	"salesforce.client_secret",
	"salesforce.campaign_tag",
	"authority.file",
	"metrics.textfile",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "swab.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jotform.base_url", "https://api.jotform.com")
	v.SetDefault("jotform.timeout_secs", 30)
	v.SetDefault("jotform.page_size", 1000)
	v.SetDefault("givebutter.base_url", "https://api.givebutter.com/v1")
	v.SetDefault("givebutter.timeout_secs", 30)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 20)
	v.SetDefault("crm.provider", "givebutter")
	v.SetDefault("program.year", 2025)
	v.SetDefault("matching.concurrency", 8)
	v.SetDefault("matching.auto_resolve_gap", 100)
	v.SetDefault("matching.stale_after_days", 30)
	v.SetDefault("matching.retired_tag", "retired")
	v.SetDefault("changes.tracked", DefaultTrackedFields)
	v.SetDefault("changes.significant", DefaultSignificantFields)
	v.SetDefault("changes.ignored", []string{"updated_at", "last_synced_at"})
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.min_interval_ms", 100)
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.format", "csv")
}

// DefaultTrackedFields are the identity fields audited by the change detector.
var DefaultTrackedFields = []string{
	"first_name", "last_name", "preferred_name", "phone", "personal_email",
	"uga_email", "signed_up", "setup_complete", "training_complete",
	"fundraising_done", "amount_raised", "external_contact_id",
	"membership_id", "status_category",
}

// DefaultSignificantFields are the tracked fields worth surfacing to operators.
var DefaultSignificantFields = []string{
	"phone", "personal_email", "uga_email", "setup_complete",
	"training_complete", "fundraising_done", "external_contact_id",
	"status_category",
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
