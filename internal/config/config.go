package config

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	DatabaseURL         string
	RedisURL            string
	AdminKeyHash        string // bcrypt hash of the admin console key
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool

	// AllocationTolerance is the maximum acceptable difference between the
	// sum of mapped amounts and the investment principal. The contract says
	// "about one cent"; the exact value is deployment configuration, not a
	// currency assumption baked into code.
	AllocationTolerance decimal.Decimal

	// MinAllocationNotes is the minimum rationale length required on every
	// allocation and deallocation request.
	MinAllocationNotes int

	// BalanceSnapshotTTLSeconds bounds how stale a cached vendor balance may
	// be before it is treated as missing.
	BalanceSnapshotTTLSeconds int
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL")
	if env == "test" && viper.GetString("DATABASE_URL_TEST") != "" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}

	tolerance, err := decimal.NewFromString(stringOr(viper.GetString("ALLOCATION_TOLERANCE"), "0.01"))
	if err != nil {
		return nil, err
	}

	minNotes := viper.GetInt("MIN_ALLOCATION_NOTES")
	if minNotes <= 0 {
		minNotes = 10
	}
	snapshotTTL := viper.GetInt("BALANCE_SNAPSHOT_TTL_SECONDS")
	if snapshotTTL <= 0 {
		snapshotTTL = 300
	}

	return &Config{
		Env:                       env,
		Port:                      port,
		DatabaseURL:               dbURL,
		RedisURL:                  viper.GetString("REDIS_URL"),
		AdminKeyHash:              viper.GetString("ADMIN_KEY_HASH"),
		FrontendURLEndsWith:       viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:               viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:         strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		AllocationTolerance:       tolerance,
		MinAllocationNotes:        minNotes,
		BalanceSnapshotTTLSeconds: snapshotTTL,
	}, nil
}

func stringOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
