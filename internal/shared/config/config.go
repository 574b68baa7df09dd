package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/ini.v1"
)

// LogConf contains logging specific configuration.
type LogConf struct {
	Level string `ini:"level"`
}

// HuntConf drives the hunt scheduler.
type HuntConf struct {
	IntervalSeconds     int     `ini:"interval_seconds"`
	SourceLimit         int     `ini:"source_limit"`
	CandidateLimit      int     `ini:"candidate_limit"`
	ValidationBatchSize int     `ini:"validation_batch_size"`
	FetchTimeoutSeconds int     `ini:"fetch_timeout_seconds"`
	FetchAttempts       int     `ini:"fetch_attempts"`
	CleanupIntervalSecs int     `ini:"cleanup_interval_seconds"`
	StaleAfterHours     int     `ini:"stale_after_hours"`
	RevalIntervalSecs   int     `ini:"revalidation_interval_seconds"`
	RevalBatchSize      int     `ini:"revalidation_batch_size"`
	ReactivationBatch   int     `ini:"reactivation_batch_size"`
	ReactivationQuality float64 `ini:"reactivation_min_quality"`
}

// ValidateConf drives the proxy validator.
type ValidateConf struct {
	FastTimeoutSeconds int `ini:"fast_timeout_seconds"`
	FullTimeoutSeconds int `ini:"full_timeout_seconds"`
}

// CertifyConf drives the elite certification sweep.
type CertifyConf struct {
	IntervalSeconds     int `ini:"interval_seconds"`
	BatchSize           int `ini:"batch_size"`
	RecheckAfterHours   int `ini:"recheck_after_hours"`
	SpacingSeconds      int `ini:"spacing_seconds"`
	RotationSpacingSecs int `ini:"rotation_spacing_seconds"`
}

// DiscoveryConf drives source discovery.
type DiscoveryConf struct {
	Enabled         bool   `ini:"enabled"`
	IntervalSeconds int    `ini:"interval_seconds"`
	GithubToken     string `ini:"github_token"`
}

// StoreConf locates the persisted data files.
type StoreConf struct {
	DataDir     string `ini:"data_dir"`
	ASNTables   string `ini:"asn_tables"`
	SeedSources string `ini:"seed_sources"`
}

// NotifyConf configures the outbound webhook.
type NotifyConf struct {
	WebhookURL string `ini:"webhook_url"`
}

// ASNConf configures the classifier lookups.
type ASNConf struct {
	CacheTTLSeconds int    `ini:"cache_ttl_seconds"`
	AbuseAPIKey     string `ini:"abuse_api_key"`
}

// Config is the unified behaviour configuration of the hunter binary.
type Config struct {
	Log       LogConf       `ini:"log"`
	Hunt      HuntConf      `ini:"hunt"`
	Validate  ValidateConf  `ini:"validate"`
	Certify   CertifyConf   `ini:"certify"`
	Discovery DiscoveryConf `ini:"discovery"`
	Store     StoreConf     `ini:"store"`
	Notify    NotifyConf    `ini:"notify"`
	ASN       ASNConf       `ini:"asn"`
}

// Default returns the built-in configuration the binary runs with when no
// ini file is present.
func Default() *Config {
	return &Config{
		Log: LogConf{Level: "info"},
		Hunt: HuntConf{
			IntervalSeconds:     300,
			SourceLimit:         40,
			CandidateLimit:      500,
			ValidationBatchSize: 500,
			FetchTimeoutSeconds: 15,
			FetchAttempts:       3,
			CleanupIntervalSecs: 3600,
			StaleAfterHours:     6,
			RevalIntervalSecs:   21600,
			RevalBatchSize:      100,
			ReactivationBatch:   20,
			ReactivationQuality: 0.6,
		},
		Validate: ValidateConf{
			FastTimeoutSeconds: 5,
			FullTimeoutSeconds: 10,
		},
		Certify: CertifyConf{
			IntervalSeconds:     3600,
			BatchSize:           20,
			RecheckAfterHours:   24,
			SpacingSeconds:      10,
			RotationSpacingSecs: 120,
		},
		Discovery: DiscoveryConf{
			Enabled:         true,
			IntervalSeconds: 3600,
		},
		Store: StoreConf{
			DataDir:     "data",
			ASNTables:   "configs/asn_tables.json",
			SeedSources: "configs/seed_sources.json",
		},
		ASN: ASNConf{CacheTTLSeconds: 3600},
	}
}

// Load reads the ini behaviour file into a Config. A missing file is not an
// error: defaults apply, with env overrides on top either way.
func Load(fileName string) (*Config, error) {
	cfg := Default()

	iniFile, err := ini.Load(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to load config %s: %w", fileName, err)
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return nil, fmt.Errorf("failed to map config %s: %w", fileName, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideFromEnv(&cfg.Notify.WebhookURL, "WEBHOOK_URL")
	overrideFromEnv(&cfg.ASN.AbuseAPIKey, "ABUSEIPDB_API_KEY")
	overrideFromEnv(&cfg.Discovery.GithubToken, "GITHUB_TOKEN")
	overrideFromEnvInt(&cfg.Hunt.IntervalSeconds, "HUNT_INTERVAL_SECS")
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
