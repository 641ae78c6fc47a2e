package ingest

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/qafinder/internal/config"
	"github.com/hpungsan/qafinder/internal/helpdesk"
	"github.com/hpungsan/qafinder/internal/logging"
)

// NewFromConfig builds an Ingester whose helpdesk client uses cfg's
// credentials and request limits. Missing credentials are a CONFIG error.
func NewFromConfig(database *sql.DB, cfg *config.Config, logger *slog.Logger) (*Ingester, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrDefault(logger)

	client, err := helpdesk.NewClient(helpdesk.Config{
		BaseURL:     cfg.Credentials.APIRoot(),
		Email:       tokenUser(cfg.Credentials.Email),
		Token:       cfg.Credentials.Token,
		Timeout:     time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger.With("component", "helpdesk"),
	})
	if err != nil {
		return nil, err
	}
	return &Ingester{
		Remote: client,
		DB:     database,
		Config: cfg,
		Logger: logger,
	}, nil
}

// tokenUser returns the basic-auth user for API-token auth.
func tokenUser(email string) string {
	if strings.HasSuffix(email, "/token") {
		return email
	}
	return email + "/token"
}
