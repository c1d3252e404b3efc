package corebank

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// TenantIsolationStrategy selects how tenant data is partitioned within the
// storage backend.
type TenantIsolationStrategy string

const (
	IsolationSharedTable TenantIsolationStrategy = "shared_table"
	IsolationSchema      TenantIsolationStrategy = "schema"
	IsolationDatabase    TenantIsolationStrategy = "database"
)

// EncryptionProvider selects the AEAD construction used for PII envelope
// encryption.
type EncryptionProvider string

const (
	EncryptionChaCha20Poly1305 EncryptionProvider = "chacha20poly1305"
	EncryptionNone             EncryptionProvider = "none"
)

// DayCountConvention selects the day-count basis for interest accrual.
type DayCountConvention string

const (
	DayCountActual365 DayCountConvention = "actual/365"
	DayCountActual360 DayCountConvention = "actual/360"
	DayCount30_360    DayCountConvention = "30/360"
)

// StatementCycleDayPolicy selects how a statement cycle day that doesn't
// exist in a given month (e.g. the 31st in February) is resolved.
type StatementCycleDayPolicy string

const (
	CyclePolicyLastDayOfMonth StatementCycleDayPolicy = "last_day_of_month"
	CyclePolicyNextMonth      StatementCycleDayPolicy = "roll_forward"
)

// Config holds every option spec.md §6 names for the core. Loaded via
// godotenv + os.Getenv fallback, the way aristath-sentinel and
// dafibh-fortuna-backend load their own configuration, then validated.
// Validate checks every field, but NewEngine reads only KeyMaterial and
// DBPath: it always encrypts PII with ChaCha20-Poly1305, always uses the
// system clock and the single shared-table layout, and does not consult
// DayCountConvention, DefaultGraceDays or StatementCycleDayPolicy (the
// loan accrual job and LoanEngine.AccrueDailyInterest take a
// DayCountConvention from their caller).
type Config struct {
	TenantIsolation         TenantIsolationStrategy
	EncryptionProvider      EncryptionProvider
	KeyMaterial             string
	DayCountConvention      DayCountConvention
	DefaultGraceDays        int
	StatementCycleDayPolicy StatementCycleDayPolicy
	ClockSource             string // "system" or "fixed" (tests only)

	DBPath string
}

// LoadConfig reads a .env file at path (if present, ignored if missing) and
// overlays process environment variables, then validates the result.
func LoadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, internalErr("LoadConfig", "reading env file", err)
		}
	}

	cfg := &Config{
		TenantIsolation:         TenantIsolationStrategy(getenv("TENANT_ISOLATION", string(IsolationSharedTable))),
		EncryptionProvider:      EncryptionProvider(getenv("ENCRYPTION_PROVIDER", string(EncryptionChaCha20Poly1305))),
		KeyMaterial:             os.Getenv("KEY_MATERIAL"),
		DayCountConvention:      DayCountConvention(getenv("DAY_COUNT_CONVENTION", string(DayCountActual365))),
		DefaultGraceDays:        getenvInt("DEFAULT_GRACE_DAYS", 21),
		StatementCycleDayPolicy: StatementCycleDayPolicy(getenv("STATEMENT_CYCLE_DAY_POLICY", string(CyclePolicyLastDayOfMonth))),
		ClockSource:             getenv("CLOCK_SOURCE", "system"),
		DBPath:                  getenv("DB_PATH", "corebank.db"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unrecognized option values.
func (c *Config) Validate() error {
	switch c.TenantIsolation {
	case IsolationSharedTable, IsolationSchema, IsolationDatabase:
	default:
		return validationErr("Config.Validate", "unknown tenant_isolation: "+string(c.TenantIsolation), nil)
	}
	switch c.EncryptionProvider {
	case EncryptionChaCha20Poly1305, EncryptionNone:
	default:
		return validationErr("Config.Validate", "unknown encryption_provider: "+string(c.EncryptionProvider), nil)
	}
	if c.EncryptionProvider == EncryptionChaCha20Poly1305 && c.KeyMaterial == "" {
		return validationErr("Config.Validate", "key_material required for chacha20poly1305 provider", nil)
	}
	switch c.DayCountConvention {
	case DayCountActual365, DayCountActual360, DayCount30_360:
	default:
		return validationErr("Config.Validate", "unknown day_count_convention: "+string(c.DayCountConvention), nil)
	}
	if c.DefaultGraceDays < 0 {
		return validationErr("Config.Validate", "default_grace_days must be >= 0", nil)
	}
	switch c.StatementCycleDayPolicy {
	case CyclePolicyLastDayOfMonth, CyclePolicyNextMonth:
	default:
		return validationErr("Config.Validate", "unknown statement_cycle_day_policy: "+string(c.StatementCycleDayPolicy), nil)
	}
	if c.ClockSource != "system" && c.ClockSource != "fixed" {
		return validationErr("Config.Validate", "unknown clock_source: "+c.ClockSource, nil)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
