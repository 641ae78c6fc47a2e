package config

import (
	"os"
	"path/filepath"
	"testing"

	qaerrors "github.com/hpungsan/qafinder/internal/errors"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LookbackDays != 5 {
		t.Fatalf("LookbackDays = %d, want 5", cfg.LookbackDays)
	}
	if cfg.SliceHours != 6 {
		t.Fatalf("SliceHours = %d, want 6", cfg.SliceHours)
	}
	if cfg.CustomFields["payer_tier"] != 6645722066458 {
		t.Fatalf("CustomFields[payer_tier] = %d", cfg.CustomFields["payer_tier"])
	}
	if cfg.BaseDir != tmpDir {
		t.Fatalf("BaseDir = %q, want %q", cfg.BaseDir, tmpDir)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	body := `{"lookback_days": 2, "weights": {"low_csat": 20}, "custom_fields": {"language": 99}}`
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LookbackDays != 2 {
		t.Fatalf("LookbackDays = %d, want 2", cfg.LookbackDays)
	}
	if cfg.Weights["low_csat"] != 20 {
		t.Fatalf("Weights[low_csat] = %d, want 20", cfg.Weights["low_csat"])
	}
	if cfg.CustomFields["language"] != 99 {
		t.Fatalf("CustomFields[language] = %d, want 99", cfg.CustomFields["language"])
	}
	// untouched keys keep defaults
	if cfg.CustomFields["topic"] != 360019266879 {
		t.Fatalf("CustomFields[topic] = %d", cfg.CustomFields["topic"])
	}
	if cfg.SliceHours != 6 {
		t.Fatalf("SliceHours = %d, want 6", cfg.SliceHours)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["ticket_ingest", "fts_rebuild"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "ticket_ingest" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "ticket_ingest")
	}
	if cfg.DisabledTools[1] != "fts_rebuild" {
		t.Errorf("DisabledTools[1] = %q, want %q", cfg.DisabledTools[1], "fts_rebuild")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		base    *Config
		overlay *Config
		check   func(t *testing.T, got *Config)
	}{
		{
			name:    "lexicon list replaced when overlay set",
			base:    &Config{ComplaintWords: []string{"angry", "scam"}},
			overlay: &Config{ComplaintWords: []string{"refund"}},
			check: func(t *testing.T, got *Config) {
				if len(got.ComplaintWords) != 1 || got.ComplaintWords[0] != "refund" {
					t.Errorf("ComplaintWords = %v, want [refund]", got.ComplaintWords)
				}
			},
		},
		{
			name:    "lexicon list kept when overlay empty",
			base:    &Config{TrivialTags: []string{"lag"}},
			overlay: &Config{},
			check: func(t *testing.T, got *Config) {
				if len(got.TrivialTags) != 1 {
					t.Errorf("TrivialTags = %v, want [lag]", got.TrivialTags)
				}
			},
		},
		{
			name:    "allowed paths merged and deduplicated",
			base:    &Config{AllowedPaths: []string{"/a", "/b"}},
			overlay: &Config{AllowedPaths: []string{"/b", " /c "}},
			check: func(t *testing.T, got *Config) {
				if len(got.AllowedPaths) != 3 {
					t.Errorf("AllowedPaths = %v, want 3 entries", got.AllowedPaths)
				}
			},
		},
		{
			name:    "bot emails lower-cased",
			base:    &Config{},
			overlay: &Config{BotEmails: []string{"Bot@Example.com"}},
			check: func(t *testing.T, got *Config) {
				if !got.IsBot("bot@example.com") {
					t.Errorf("IsBot() = false for configured bot")
				}
				if !got.IsBot(" BOT@example.com ") {
					t.Errorf("IsBot() should ignore case and whitespace")
				}
				if got.IsBot("") {
					t.Errorf("IsBot(\"\") = true")
				}
			},
		},
		{
			name:    "bpo rules replaced wholesale",
			base:    DefaultConfig(),
			overlay: &Config{BPORules: []BPORule{{Label: "X", Fragments: []string{"x"}}}},
			check: func(t *testing.T, got *Config) {
				if len(got.BPORules) != 1 || got.BPORules[0].Label != "X" {
					t.Errorf("BPORules = %v", got.BPORules)
				}
			},
		},
		{
			name:    "unsafe paths is sticky",
			base:    &Config{AllowUnsafePaths: true},
			overlay: &Config{},
			check: func(t *testing.T, got *Config) {
				if !got.AllowUnsafePaths {
					t.Errorf("AllowUnsafePaths = false, want true")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Merge(tt.base, tt.overlay))
		})
	}
}

func TestCredentials_Validate(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		c := Credentials{Subdomain: "acme", Email: "a@b.c", Token: "tok"}
		if err := c.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	})

	t.Run("base url replaces subdomain", func(t *testing.T) {
		c := Credentials{BaseURL: "http://127.0.0.1:9999/api/v2/", Email: "a@b.c", Token: "tok"}
		if err := c.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if c.APIRoot() != "http://127.0.0.1:9999/api/v2" {
			t.Errorf("APIRoot() = %q", c.APIRoot())
		}
	})

	t.Run("missing values are all named", func(t *testing.T) {
		err := Credentials{Email: "a@b.c"}.Validate()
		if !qaerrors.Is(err, qaerrors.ErrConfig) {
			t.Fatalf("Validate() error = %v, want CONFIG", err)
		}
		qErr, _ := qaerrors.As(err)
		missing := qErr.Details["missing"].([]string)
		if len(missing) != 2 || missing[0] != EnvSubdomain || missing[1] != EnvToken {
			t.Errorf("missing = %v", missing)
		}
	})

	t.Run("api root from subdomain", func(t *testing.T) {
		c := Credentials{Subdomain: "acme"}
		if c.APIRoot() != "https://acme.zendesk.com/api/v2" {
			t.Errorf("APIRoot() = %q", c.APIRoot())
		}
		if c.TicketURL(42) != "https://acme.zendesk.com/agent/tickets/42" {
			t.Errorf("TicketURL() = %q", c.TicketURL(42))
		}
	})

	t.Run("ticket url", func(t *testing.T) {
		c := Credentials{BaseURL: "http://localhost:8080/api/v2/"}
		if c.TicketURL(7) != "http://localhost:8080/agent/tickets/7" {
			t.Errorf("TicketURL() = %q", c.TicketURL(7))
		}
		if (Credentials{}).TicketURL(7) != "" {
			t.Error("TicketURL() without location should be empty")
		}
	})
}

func TestResolve_ReadsDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvSubdomain, "")
	t.Setenv(EnvEmail, "")
	t.Setenv(EnvToken, "preset-token")
	os.Unsetenv(EnvSubdomain)
	os.Unsetenv(EnvEmail)

	env := "ZD_SUBDOMAIN=fromfile\nZD_EMAIL=qa@example.com\nZD_API_TOKEN=file-token\n"
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(env), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Resolve(tmpDir)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Credentials.Subdomain != "fromfile" {
		t.Errorf("Subdomain = %q, want fromfile", cfg.Credentials.Subdomain)
	}
	if cfg.Credentials.Email != "qa@example.com" {
		t.Errorf("Email = %q", cfg.Credentials.Email)
	}
	// process environment wins over .env
	if cfg.Credentials.Token != "preset-token" {
		t.Errorf("Token = %q, want preset-token", cfg.Credentials.Token)
	}
	if cfg.ExportsDir() != filepath.Join(tmpDir, "exports") {
		t.Errorf("ExportsDir() = %q", cfg.ExportsDir())
	}
}
