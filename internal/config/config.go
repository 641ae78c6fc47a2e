package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	qaerrors "github.com/hpungsan/qafinder/internal/errors"
)

// Environment variables holding the helpdesk credentials.
const (
	EnvSubdomain = "ZD_SUBDOMAIN"
	EnvEmail     = "ZD_EMAIL"
	EnvToken     = "ZD_API_TOKEN"
	EnvBaseURL   = "ZD_BASE_URL"
)

// Config holds application configuration. It is resolved once at startup
// and must be treated as read-only afterwards.
type Config struct {
	// Credentials for the helpdesk API. Never read from config.json.
	Credentials Credentials `json:"-"`

	// BotEmails are automation accounts. Tickets assigned to them are skipped
	// and their replies never count as human interaction.
	BotEmails []string `json:"bot_emails,omitempty"`

	// CustomFields maps tracked field names (payer_tier, language, topic,
	// sub_topic, version) to the helpdesk's numeric custom field ids.
	CustomFields map[string]int64 `json:"custom_fields,omitempty"`

	// Weights overrides individual scoring rule weights by rule name.
	Weights map[string]int `json:"weights,omitempty"`

	SensitiveKeywords   []string `json:"sensitive_keywords,omitempty"`
	EmpathyMarkers      []string `json:"empathy_markers,omitempty"`
	ComplaintWords      []string `json:"complaint_words,omitempty"`
	TrivialTags         []string `json:"trivial_tags,omitempty"`
	HighValueTiers      []string `json:"high_value_tiers,omitempty"`
	DefaultExcludedTags []string `json:"default_excluded_tags,omitempty"`

	// BPORules classify an assignee by group membership. Order matters:
	// the first rule with a matching fragment wins.
	BPORules []BPORule `json:"bpo_rules,omitempty"`

	// LookbackDays is the default ingest window.
	LookbackDays int `json:"lookback_days,omitempty"`

	// SliceHours is the sub-window size used by ingestion.
	SliceHours int `json:"slice_hours,omitempty"`

	// RequestTimeoutSeconds bounds each helpdesk request.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`

	// MaxAttempts caps retries of a single helpdesk request.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Schedule is a cron expression for periodic ingestion in serve mode.
	// Empty disables scheduling.
	Schedule string `json:"schedule,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// AllowedPaths is an allowlist of directories for review exports.
	// Paths outside <base>/exports require either being in this list or AllowUnsafePaths=true.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for exports.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// BaseDir is where the database, config and exports live. Set by Resolve.
	BaseDir string `json:"-"`
}

// BPORule maps a vendor label to the group-name fragments that identify it.
type BPORule struct {
	Label     string   `json:"label"`
	Fragments []string `json:"fragments"`
}

// Credentials is the single service credential for the helpdesk API.
type Credentials struct {
	Subdomain string
	Email     string
	Token     string
	BaseURL   string // optional override of the subdomain-derived root
}

// Validate returns a configuration error naming every missing credential.
func (c Credentials) Validate() error {
	var missing []string
	if c.Subdomain == "" && c.BaseURL == "" {
		missing = append(missing, EnvSubdomain)
	}
	if c.Email == "" {
		missing = append(missing, EnvEmail)
	}
	if c.Token == "" {
		missing = append(missing, EnvToken)
	}
	if len(missing) > 0 {
		return qaerrors.NewConfig(missing)
	}
	return nil
}

// APIRoot returns the helpdesk API root URL.
func (c Credentials) APIRoot() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.zendesk.com/api/v2", c.Subdomain)
}

// TicketURL returns the agent-facing link for a ticket, or "" when no
// helpdesk location is configured.
func (c Credentials) TicketURL(id int64) string {
	var root string
	switch {
	case c.Subdomain != "":
		root = fmt.Sprintf("https://%s.zendesk.com", c.Subdomain)
	case c.BaseURL != "":
		root = strings.TrimSuffix(strings.TrimRight(c.BaseURL, "/"), "/api/v2")
	default:
		return ""
	}
	return fmt.Sprintf("%s/agent/tickets/%d", root, id)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BotEmails: []string{"ilya@candivore.io", "maor@candivore.io"},
		CustomFields: map[string]int64{
			"topic":      360019266879,
			"sub_topic":  5066696830106,
			"version":    1260819767490,
			"language":   5428339880602,
			"payer_tier": 6645722066458,
		},
		SensitiveKeywords: []string{
			"chargeback", "lawyer", "legal action", "police", "suicide", "self harm",
			"harass", "threat", "gdpr", "delete my account", "underage", "fraud",
			"hacked", "stolen",
		},
		EmpathyMarkers: []string{
			"sorry", "apologize", "apologies", "i understand", "understand how",
			"frustrating", "thank you for your patience", "appreciate your",
		},
		ComplaintWords: []string{
			"angry", "furious", "disappointed", "unfair", "scam", "cheat",
			"cheating", "rigged", "refund",
		},
		TrivialTags: []string{
			"connection", "connection_issue", "lag", "crash", "game_crash",
			"network", "timeout", "opp_out_of_time", "game_lag", "lags_issue",
		},
		HighValueTiers: []string{"VIP", "Whale"},
		DefaultExcludedTags: []string{
			"connection", "connection_issue", "lag", "crash", "game_crash",
			"network", "timeout", "opp_out_of_time",
		},
		BPORules: []BPORule{
			{Label: "ICX", Fragments: []string{"icx"}},
			{Label: "TG", Fragments: []string{"tg", "telus"}},
			{Label: "CNX", Fragments: []string{"cnx", "concentrix"}},
		},
		LookbackDays:          5,
		SliceHours:            6,
		RequestTimeoutSeconds: 30,
		MaxAttempts:           6,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Resolve builds the effective configuration for baseDir: defaults, then
// baseDir/config.json, then credentials from the environment. .env files in
// baseDir and the working directory are loaded first; variables already set
// in the process environment take precedence.
func Resolve(baseDir string) (*Config, error) {
	loadDotEnv(filepath.Join(baseDir, ".env"), ".env")

	cfg, err := Load(baseDir)
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = baseDir
	cfg.Credentials = CredentialsFromEnv()
	return cfg, nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.qafinder.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	cfg.BaseDir = baseDir
	return cfg, nil
}

// CredentialsFromEnv reads the helpdesk credentials from the environment.
func CredentialsFromEnv() Credentials {
	return Credentials{
		Subdomain: strings.TrimSpace(os.Getenv(EnvSubdomain)),
		Email:     strings.TrimSpace(os.Getenv(EnvEmail)),
		Token:     strings.TrimSpace(os.Getenv(EnvToken)),
		BaseURL:   strings.TrimSpace(os.Getenv(EnvBaseURL)),
	}
}

// loadDotEnv loads each existing .env file; missing files are ignored.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Scalars and lexicon lists: overlay wins when set. Maps: overlay per key.
// Allowlists (allowed_paths, disabled_tools): merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		Credentials: base.Credentials,
		BaseDir:     base.BaseDir,
	}
	if overlay.BaseDir != "" {
		result.BaseDir = overlay.BaseDir
	}

	result.LookbackDays = pickInt(overlay.LookbackDays, base.LookbackDays)
	result.SliceHours = pickInt(overlay.SliceHours, base.SliceHours)
	result.RequestTimeoutSeconds = pickInt(overlay.RequestTimeoutSeconds, base.RequestTimeoutSeconds)
	result.MaxAttempts = pickInt(overlay.MaxAttempts, base.MaxAttempts)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.Schedule = pickString(overlay.Schedule, base.Schedule)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.BotEmails = lowerAll(pickList(overlay.BotEmails, base.BotEmails))
	result.SensitiveKeywords = pickList(overlay.SensitiveKeywords, base.SensitiveKeywords)
	result.EmpathyMarkers = pickList(overlay.EmpathyMarkers, base.EmpathyMarkers)
	result.ComplaintWords = pickList(overlay.ComplaintWords, base.ComplaintWords)
	result.TrivialTags = pickList(overlay.TrivialTags, base.TrivialTags)
	result.HighValueTiers = pickList(overlay.HighValueTiers, base.HighValueTiers)
	result.DefaultExcludedTags = pickList(overlay.DefaultExcludedTags, base.DefaultExcludedTags)

	result.BPORules = base.BPORules
	if len(overlay.BPORules) > 0 {
		result.BPORules = overlay.BPORules
	}

	result.CustomFields = make(map[string]int64, len(base.CustomFields))
	for k, v := range base.CustomFields {
		result.CustomFields[k] = v
	}
	for k, v := range overlay.CustomFields {
		if v != 0 {
			result.CustomFields[k] = v
		}
	}

	result.Weights = make(map[string]int, len(base.Weights)+len(overlay.Weights))
	for k, v := range base.Weights {
		result.Weights[k] = v
	}
	for k, v := range overlay.Weights {
		result.Weights[k] = v
	}

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// IsBot reports whether email belongs to an automation account.
func (c *Config) IsBot(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, b := range c.BotEmails {
		if b == email {
			return true
		}
	}
	return false
}

// ExportsDir returns the default export directory.
func (c *Config) ExportsDir() string {
	return filepath.Join(c.BaseDir, "exports")
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func pickList(overlay, base []string) []string {
	if cleaned := mergeStringSlice(overlay, nil); len(cleaned) > 0 {
		return cleaned
	}
	return mergeStringSlice(base, nil)
}

func lowerAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
