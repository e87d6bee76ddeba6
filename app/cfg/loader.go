package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Persistence configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./citeline.db" description:"Path to the SQLite database file"`

	// Queue configuration
	RedisURL string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the durable job queue (empty selects the in-memory queue)"`

	// Authority ranking API configuration
	AuthorityAPIURL string `long:"authority-api-url" env:"AUTHORITY_API_URL" description:"Domain authority ranking API endpoint"`
	AuthorityAPIKey string `long:"authority-api-key" env:"AUTHORITY_API_KEY" description:"Domain authority ranking API key"`

	// Alerting configuration
	ThresholdsDir      string `long:"thresholds-dir" env:"THRESHOLDS_DIR" default:"./thresholds" description:"Directory containing alert threshold configuration files"`
	AlertWebhookURL    string `long:"alert-webhook-url" env:"ALERT_WEBHOOK_URL" description:"Webhook URL for alert event delivery (optional)"`
	AlertCheckInterval int    `long:"alert-check-interval" env:"ALERT_CHECK_INTERVAL" default:"300" description:"Alert check interval in seconds"`
	AlertSendCap       int    `long:"alert-send-cap" env:"ALERT_SEND_CAP" default:"10" description:"Maximum alert events sent per check cycle"`

	// Application configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"Citeline/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:             raw.DBPath,
		RedisURL:           raw.RedisURL,
		AuthorityAPIURL:    raw.AuthorityAPIURL,
		AuthorityAPIKey:    raw.AuthorityAPIKey,
		ThresholdsDir:      raw.ThresholdsDir,
		AlertWebhookURL:    raw.AlertWebhookURL,
		AlertCheckInterval: raw.AlertCheckInterval,
		AlertSendCap:       raw.AlertSendCap,
		Port:               raw.Port,
		APIAccessKey:       raw.APIAccessKey,
		UserAgent:          raw.UserAgent,
		Timezone:           raw.Timezone,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
