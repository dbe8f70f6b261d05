// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/matcher"
	"github.com/example/palm-pay/internal/payment"
	"github.com/example/palm-pay/internal/vault"
)

// Config holds runtime settings for the palm payment API.
//
// DatabaseDSN and RedisAddr are optional: when empty the audit trail and
// attempt cache are disabled. Templates are never persisted either way.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseDSN           string
	RedisAddr             string
	ExtractorAddr         string
	JWTSecret             string
	JWTAudience           string
	MerchantID            string
	MatchStrategy         matcher.Strategy
	CosineThreshold       float64
	PointSetThreshold     float64
	PointSetMaxDistance   float64
	PointSetNormalization matcher.Normalization
	VaultCipher           vault.Cipher
	TxnIDScheme           payment.Scheme
	ShutdownTimeout       time.Duration
	MaxImagePixels        int
}

// DevJWTSecret is the signing key used when JWT_SECRET is unset. It is only
// accepted in the development environment.
const DevJWTSecret = "dev-secret"

// LoadDefaults populates development defaults.
func (c *Config) LoadDefaults() {
	c.Env = "production"
	c.HTTPAddr = ":8080"
	c.ExtractorAddr = "feature-extractor:50051"
	c.JWTSecret = DevJWTSecret
	c.MerchantID = "MERCHANT123456"
	c.MatchStrategy = matcher.StrategyCosine
	c.CosineThreshold = matcher.DefaultCosineThreshold
	c.PointSetThreshold = matcher.DefaultPointSetThreshold
	c.PointSetMaxDistance = matcher.DefaultMaxDistance
	c.PointSetNormalization = matcher.NormalizePresented
	c.VaultCipher = vault.CipherAESGCM
	c.TxnIDScheme = payment.SchemeUUID
	c.ShutdownTimeout = 15 * time.Second
	c.MaxImagePixels = features.DefaultMaxPixels
}

// Load applies defaults, then an optional .env file (ENV_FILE, default
// ".env"), then the process environment. Variables already set in the
// environment win over the file.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	cfg.LoadDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("APP_ENV", c.Env)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.ExtractorAddr = getEnv("FEATURE_EXTRACTOR_ADDR", c.ExtractorAddr)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTAudience = getEnv("JWT_AUDIENCE", c.JWTAudience)
	c.MerchantID = getEnv("MERCHANT_ID", c.MerchantID)
	c.MatchStrategy = matcher.Strategy(getEnv("MATCH_STRATEGY", string(c.MatchStrategy)))
	c.PointSetNormalization = matcher.Normalization(getEnv("POINTSET_NORMALIZATION", string(c.PointSetNormalization)))
	c.VaultCipher = vault.Cipher(getEnv("VAULT_CIPHER", string(c.VaultCipher)))
	c.TxnIDScheme = payment.Scheme(getEnv("TXN_ID_SCHEME", string(c.TxnIDScheme)))

	var err error
	if c.CosineThreshold, err = getFloat("COSINE_THRESHOLD", c.CosineThreshold); err != nil {
		return err
	}
	if c.PointSetThreshold, err = getFloat("POINTSET_THRESHOLD", c.PointSetThreshold); err != nil {
		return err
	}
	if c.PointSetMaxDistance, err = getFloat("POINTSET_MAX_DISTANCE", c.PointSetMaxDistance); err != nil {
		return err
	}
	if v := os.Getenv("MAX_IMAGE_PIXELS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_IMAGE_PIXELS: %w", err)
		}
		c.MaxImagePixels = n
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

// Validate rejects out-of-range thresholds, unknown enum values and the
// development signing key outside development.
func (c *Config) Validate() error {
	var errs []error
	if c.MatchStrategy != matcher.StrategyCosine && c.MatchStrategy != matcher.StrategyPointSet {
		errs = append(errs, fmt.Errorf("unknown MATCH_STRATEGY %q", c.MatchStrategy))
	}
	for name, v := range map[string]float64{
		"COSINE_THRESHOLD":   c.CosineThreshold,
		"POINTSET_THRESHOLD": c.PointSetThreshold,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}
	if math.IsNaN(c.PointSetMaxDistance) || c.PointSetMaxDistance <= 0 {
		errs = append(errs, fmt.Errorf("POINTSET_MAX_DISTANCE must be positive, got %v", c.PointSetMaxDistance))
	}
	if c.MaxImagePixels <= 0 {
		errs = append(errs, fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels))
	}
	if c.Env != "development" && (c.JWTSecret == "" || c.JWTSecret == DevJWTSecret) {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be set outside development (APP_ENV=%q)", c.Env))
	}
	if _, err := matcher.ParseNormalization(string(c.PointSetNormalization)); err != nil {
		errs = append(errs, err)
	}
	if _, err := vault.ParseCipher(string(c.VaultCipher)); err != nil {
		errs = append(errs, err)
	}
	if _, err := payment.NewIDGenerator(c.TxnIDScheme); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Threshold returns the acceptance threshold of the configured strategy.
func (c *Config) Threshold() float64 {
	if c.MatchStrategy == matcher.StrategyPointSet {
		return c.PointSetThreshold
	}
	return c.CosineThreshold
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
