package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection: sqlite, postgres or memory
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP; empty URL selects the in-process queue
	AMQPURL         string
	AMQPExchange    string
	AMQPQueuePrefix string
	AMQPPrefetch    int

	// Recurring processing
	RecurringThrottleLimit  int
	RecurringThrottleWindow time.Duration
	RetryMaxAttempts        int
	RetryBaseDelay          time.Duration

	// Schedules (standard five-field cron specs)
	RecurringSchedule     string
	BudgetAlertSchedule   string
	MonthlyReportSchedule string
	BudgetAlertThreshold  decimal.Decimal
	Timezone              string

	// API throttling of transaction creation
	TxCreateLimit  int
	TxCreateWindow time.Duration

	// Email; empty host logs notifications instead of sending them
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string

	// Gemini; empty key disables receipts and uses canned insights
	GeminiAPIKey string
	GeminiModel  string

	// Google Sheets report export; empty ID disables it
	GoogleSpreadsheetID      string
	ReportSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledger.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "ledger"),
		AMQPQueuePrefix: getEnv("AMQP_QUEUE_PREFIX", "ledger"),
		AMQPPrefetch:    getEnvInt("AMQP_PREFETCH", 4),

		RecurringThrottleLimit:  getEnvInt("RECURRING_THROTTLE_LIMIT", 10),
		RecurringThrottleWindow: getEnvDuration("RECURRING_THROTTLE_WINDOW", time.Minute),
		RetryMaxAttempts:        getEnvInt("RETRY_MAX_ATTEMPTS", 2),
		RetryBaseDelay:          getEnvDuration("RETRY_BASE_DELAY", time.Second),

		RecurringSchedule:     getEnv("RECURRING_SCHEDULE", "0 0 * * *"),
		BudgetAlertSchedule:   getEnv("BUDGET_ALERT_SCHEDULE", "0 */6 * * *"),
		MonthlyReportSchedule: getEnv("MONTHLY_REPORT_SCHEDULE", "0 0 1 * *"),
		BudgetAlertThreshold:  getEnvDecimal("BUDGET_ALERT_THRESHOLD", decimal.NewFromInt(80)),
		Timezone:              getEnv("TIMEZONE", "UTC"),

		TxCreateLimit:  getEnvInt("TX_CREATE_LIMIT", 4),
		TxCreateWindow: getEnvDuration("TX_CREATE_WINDOW", time.Hour),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		MailFrom:     getEnv("MAIL_FROM", "Ledger <noreply@localhost>"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		ReportSheetName:          getEnv("REPORT_SHEET_NAME", "Reports"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
	}
}

// Location resolves Timezone; Validate has already rejected unknown zones.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the configuration and returns an error listing every problem.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"sqlite", "postgres", "memory"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, "invalid DATABASE_URL: scheme must be 'postgres' or 'postgresql'")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueuePrefix == "" {
			errors = append(errors, "AMQP queue prefix cannot be empty when AMQP URL is provided")
		}
		if c.AMQPPrefetch < 1 {
			errors = append(errors, fmt.Sprintf("invalid AMQP prefetch %d: must be at least 1", c.AMQPPrefetch))
		}
	}

	if c.RecurringThrottleLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid recurring throttle limit %d: must be at least 1", c.RecurringThrottleLimit))
	}
	if c.RecurringThrottleWindow < time.Second {
		errors = append(errors, fmt.Sprintf("invalid recurring throttle window %v: must be at least 1 second", c.RecurringThrottleWindow))
	}
	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid retry max attempts %d: must be between 1 and 10", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		errors = append(errors, fmt.Sprintf("invalid retry base delay %v: must be positive", c.RetryBaseDelay))
	}
	if c.TxCreateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid transaction create limit %d: must be at least 1", c.TxCreateLimit))
	}
	if c.TxCreateWindow < time.Second {
		errors = append(errors, fmt.Sprintf("invalid transaction create window %v: must be at least 1 second", c.TxCreateWindow))
	}

	for name, spec := range map[string]string{
		"RECURRING_SCHEDULE":      c.RecurringSchedule,
		"BUDGET_ALERT_SCHEDULE":   c.BudgetAlertSchedule,
		"MONTHLY_REPORT_SCHEDULE": c.MonthlyReportSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", name, spec, err))
		}
	}
	if !c.BudgetAlertThreshold.IsPositive() || c.BudgetAlertThreshold.GreaterThan(decimal.NewFromInt(1000)) {
		errors = append(errors, fmt.Sprintf("invalid budget alert threshold %s: must be between 0 and 1000", c.BudgetAlertThreshold))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if c.SMTPHost != "" {
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			errors = append(errors, fmt.Sprintf("invalid SMTP port %d: must be between 1 and 65535", c.SMTPPort))
		}
		if c.MailFrom == "" {
			errors = append(errors, "MAIL_FROM is required when SMTP_HOST is set")
		}
	}

	if c.GoogleSpreadsheetID != "" && c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
