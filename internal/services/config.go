package services

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Lllllllleong/manifestflow/internal/gcp"
	"github.com/Lllllllleong/manifestflow/internal/ingest"
	"github.com/Lllllllleong/manifestflow/internal/poller"
)

var validate = validator.New()

// Config is read from the environment once per function instance. Each function
// validates only the fields it uses.
type Config struct {
	ProjectID         string `validate:"required"`
	FirestoreDatabase string
	ManifestsBucket   string `validate:"required"`
	LandingBucket     string `validate:"required"`
	WorkflowLocation  string `validate:"required"`
	WorkflowID        string `validate:"required"`
	EntitlementsURL   string `validate:"omitempty,url"`
	// GroupEmailDomain builds group emails when no entitlements service is configured.
	GroupEmailDomain string `validate:"required_without=EntitlementsURL"`
	SchemaCollection string `validate:"required"`
	Ingest           ingest.Config
	Poll             poller.Config
}

// LoadConfig reads every key with its default. It fails only on malformed values.
func LoadConfig() (Config, error) {
	cfg := Config{
		ProjectID:         gcp.GetEnv("PROJECT_ID", ""),
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", ""),
		ManifestsBucket:   gcp.GetEnv("MANIFESTS_BUCKET", ""),
		LandingBucket:     gcp.GetEnv("LANDING_BUCKET", ""),
		WorkflowLocation:  gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:        gcp.GetEnv("WORKFLOW_ID", "file-conversion"),
		EntitlementsURL:   gcp.GetEnv("ENTITLEMENTS_URL", ""),
		GroupEmailDomain:  gcp.GetEnv("GROUP_EMAIL_DOMAIN", ""),
		SchemaCollection:  gcp.GetEnv("SCHEMA_COLLECTION", "schemaData"),
		Ingest:            ingest.DefaultConfig(),
		Poll:              poller.DefaultConfig(),
	}

	var err error
	if cfg.Ingest.Strategy, err = ingest.ParseStrategy(gcp.GetEnv("FILE_STRATEGY", "")); err != nil {
		return Config{}, err
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"COMPONENT_CONCURRENCY", &cfg.Ingest.ComponentConcurrency},
		{"FILE_CONCURRENCY", &cfg.Ingest.FileConcurrency},
		{"POLL_MAX_STATUS_ERRORS", &cfg.Poll.MaxStatusErrors},
	}
	for _, v := range ints {
		if err := envInt(v.key, v.dst); err != nil {
			return Config{}, err
		}
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"POLL_INTERVAL", &cfg.Poll.Interval},
		{"POLL_MAX_INTERVAL", &cfg.Poll.MaxInterval},
		{"POLL_TIMEOUT", &cfg.Poll.Timeout},
	}
	for _, v := range durations {
		if err := envDuration(v.key, v.dst); err != nil {
			return Config{}, err
		}
	}
	if raw := gcp.GetEnv("POLL_RPS", ""); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("POLL_RPS: %w", err)
		}
		cfg.Poll.RequestsPerSecond = rps
	}
	return cfg, nil
}

// Require validates only the named fields.
func (c Config) Require(fields ...string) error {
	if err := validate.StructPartial(c, fields...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func envInt(key string, dst *int) error {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
