package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL      string   `mapstructure:"REDIS_URL"`
	RateLimitRPM  int      `mapstructure:"RATE_LIMIT_RPM"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	// Pricing service used to resolve item rates for billable line items.
	PricingURL      string        `mapstructure:"PRICING_URL"`
	PricingTimeout  time.Duration `mapstructure:"PRICING_TIMEOUT"`
	PricingCacheTTL time.Duration `mapstructure:"PRICING_CACHE_TTL"`

	// Background jobs. JobTenants lists the tenants swept outside requests;
	// empty means DefaultTenant only.
	JobTenants        []string      `mapstructure:"JOB_TENANTS"`
	SweepInterval     time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepLeaseTTL     time.Duration `mapstructure:"SWEEP_LEASE_TTL"`
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`

	// Discharge and billing policy.
	ValidateNursingChecklists       bool   `mapstructure:"VALIDATE_NURSING_CHECKLISTS"`
	AllowDischargeDespiteUnbilled   bool   `mapstructure:"ALLOW_DISCHARGE_DESPITE_UNBILLED"`
	AutoGenerateBillable            bool   `mapstructure:"AUTO_GENERATE_BILLABLE"`
	ProcessServiceRequestOnlyIfPaid bool   `mapstructure:"PROCESS_SERVICE_REQUEST_ONLY_IF_PAID"`
	DefaultMedicationActivity       string `mapstructure:"DEFAULT_MEDICATION_ACTIVITY"`
	DefaultPriceList                string `mapstructure:"DEFAULT_PRICE_LIST"`
	DefaultCurrency                 string `mapstructure:"DEFAULT_CURRENCY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPM", 600)
	v.SetDefault("PRICING_TIMEOUT", "5s")
	v.SetDefault("PRICING_CACHE_TTL", "10m")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_LEASE_TTL", "10m")
	v.SetDefault("RECONCILE_INTERVAL", "15m")
	v.SetDefault("VALIDATE_NURSING_CHECKLISTS", true)
	v.SetDefault("ALLOW_DISCHARGE_DESPITE_UNBILLED", false)
	v.SetDefault("AUTO_GENERATE_BILLABLE", false)
	v.SetDefault("PROCESS_SERVICE_REQUEST_ONLY_IF_PAID", false)
	v.SetDefault("DEFAULT_MEDICATION_ACTIVITY", "Medication Administration")
	v.SetDefault("DEFAULT_PRICE_LIST", "Standard Selling")
	v.SetDefault("DEFAULT_CURRENCY", "INR")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "RATE_LIMIT_RPM", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
		"DEFAULT_TENANT", "CORS_ORIGINS",
		"PRICING_URL", "PRICING_TIMEOUT", "PRICING_CACHE_TTL",
		"JOB_TENANTS", "SWEEP_INTERVAL", "SWEEP_LEASE_TTL", "RECONCILE_INTERVAL",
		"VALIDATE_NURSING_CHECKLISTS", "ALLOW_DISCHARGE_DESPITE_UNBILLED",
		"AUTO_GENERATE_BILLABLE", "PROCESS_SERVICE_REQUEST_ONLY_IF_PAID",
		"DEFAULT_MEDICATION_ACTIVITY", "DEFAULT_PRICE_LIST", "DEFAULT_CURRENCY",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	if len(cfg.JobTenants) == 0 || (len(cfg.JobTenants) == 1 && cfg.JobTenants[0] == "") {
		cfg.JobTenants = splitList(v.GetString("JOB_TENANTS"))
	}
	if len(cfg.JobTenants) == 0 {
		cfg.JobTenants = []string{cfg.DefaultTenant}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_ISSUER must be set so that real JWT authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set when ENV=%q", c.Env)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.SweepLeaseTTL < c.SweepInterval/10 {
		return fmt.Errorf("SWEEP_LEASE_TTL %s is too short for SWEEP_INTERVAL %s", c.SweepLeaseTTL, c.SweepInterval)
	}
	if c.AutoGenerateBillable && c.RedisURL == "" && c.IsProduction() {
		return fmt.Errorf("REDIS_URL is required in production when AUTO_GENERATE_BILLABLE is enabled")
	}
	return nil
}
