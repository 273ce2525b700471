// Package config turns the process environment into a typed, validated
// Config. Loading the .env file is left to main.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderKind is the closed set of payment backends this service can talk to.
type ProviderKind string

const (
	KindMpesaExpress ProviderKind = "mpesa-express"
	KindMpesaC2B     ProviderKind = "mpesa-c2b"
	KindJenga        ProviderKind = "jenga"
)

var AllKinds = []ProviderKind{KindMpesaExpress, KindMpesaC2B, KindJenga}

// ParseKind resolves a configured provider slug. Unknown values are an error.
func ParseKind(s string) (ProviderKind, error) {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown payment provider %q", s)
}

type DarajaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
}

type ExpressConfig struct {
	ShortCode   string
	PassKey     string
	CallbackURL string
}

type C2BConfig struct {
	ShortCode    string
	CallbackURL  string
	ResponseType string
}

type JengaConfig struct {
	AuthURL        string
	BaseURL        string
	MerchantCode   string
	ConsumerSecret string
	APIKey         string
	APISecret      string
	CallbackURL    string
}

type ShopifyConfig struct {
	Store       string
	AccessToken string
	APIVersion  string
}

type Config struct {
	Port        string
	Environment string
	// SandboxSimulate triggers the C2B simulate call after initiation. It is
	// never inferred from Environment.
	SandboxSimulate bool

	ProviderTimeout time.Duration
	CallbackTimeout time.Duration
	ShutdownTimeout time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	MongoURI      string
	MongoDatabase string

	Providers []ProviderKind

	Daraja  DarajaConfig
	Express ExpressConfig
	C2B     C2BConfig
	Jenga   JengaConfig
	Shopify ShopifyConfig
}

func (c *Config) Development() bool {
	return c.Environment == "development"
}

func (c *Config) Enabled(kind ProviderKind) bool {
	for _, k := range c.Providers {
		if k == kind {
			return true
		}
	}
	return false
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, raw))
			return def
		}
		return d
	}

	cfg := &Config{
		Port:            env("PORT", "3005"),
		Environment:     strings.ToLower(env("APP_ENV", "production")),
		ProviderTimeout: duration("PROVIDER_TIMEOUT", 15*time.Second),
		CallbackTimeout: duration("CALLBACK_TIMEOUT", 20*time.Second),
		ShutdownTimeout: duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		MongoURI:        env("MONGOURI", ""),
		MongoDatabase:   env("MONGO_DATABASE", "paymentsdb"),
		Daraja: DarajaConfig{
			BaseURL:        strings.TrimRight(env("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke"), "/"),
			ConsumerKey:    env("CONSUMER_KEY", ""),
			ConsumerSecret: env("CONSUMER_SECRET", ""),
		},
		Express: ExpressConfig{
			ShortCode:   env("BUSINESS_SHORT_CODE_EXPRESS", ""),
			PassKey:     env("PASSKEY", ""),
			CallbackURL: env("MPESA_EXPRESS_CALLBACK_URL", ""),
		},
		C2B: C2BConfig{
			ShortCode:    env("BUSINESS_SHORT_CODE_C2B", ""),
			CallbackURL:  strings.TrimRight(env("MPESA_C2B_CALLBACK_URL", ""), "/"),
			ResponseType: env("MPESA_C2B_RESPONSE_TYPE", "Completed"),
		},
		Jenga: JengaConfig{
			AuthURL:        env("JENGA_AUTH_URL", "https://uat.finserve.africa/authentication/api/v3/authenticate/merchant"),
			BaseURL:        strings.TrimRight(env("JENGA_BASE_URL", "https://api-uat.jengaapi.io"), "/"),
			MerchantCode:   env("JENGA_MERCHANT_CODE", ""),
			ConsumerSecret: env("JENGA_CONSUMER_SECRET", ""),
			APIKey:         env("JENGA_API_KEY", ""),
			APISecret:      env("JENGA_API_SECRET", ""),
			CallbackURL:    env("JENGA_CALLBACK_URL", ""),
		},
		Shopify: ShopifyConfig{
			Store:       env("SHOPIFY_STORE", ""),
			AccessToken: env("SHOPIFY_ACCESS_TOKEN", ""),
			APIVersion:  env("SHOPIFY_API_VERSION", "2024-10"),
		},
	}

	if raw := env("SANDBOX_SIMULATE", ""); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("SANDBOX_SIMULATE: invalid bool %q", raw))
		}
		cfg.SandboxSimulate = b
	}

	cfg.RateLimitRPS = 5
	if raw := env("RATE_LIMIT_RPS", ""); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: invalid value %q", raw))
		} else {
			cfg.RateLimitRPS = v
		}
	}
	cfg.RateLimitBurst = 10
	if raw := env("RATE_LIMIT_BURST", ""); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: invalid value %q", raw))
		} else {
			cfg.RateLimitBurst = v
		}
	}

	providers := env("ENABLED_PROVIDERS", "")
	if providers == "" {
		cfg.Providers = append([]ProviderKind(nil), AllKinds...)
	} else {
		for _, name := range strings.Split(providers, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			kind, err := ParseKind(name)
			if err != nil {
				errs = append(errs, fmt.Errorf("ENABLED_PROVIDERS: %w", err))
				continue
			}
			if !cfg.Enabled(kind) {
				cfg.Providers = append(cfg.Providers, kind)
			}
		}
		if len(cfg.Providers) == 0 && len(errs) == 0 {
			errs = append(errs, errors.New("ENABLED_PROVIDERS: no providers enabled"))
		}
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	require := func(key, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	if c.Enabled(KindMpesaExpress) || c.Enabled(KindMpesaC2B) {
		require("CONSUMER_KEY", c.Daraja.ConsumerKey)
		require("CONSUMER_SECRET", c.Daraja.ConsumerSecret)
	}
	if c.Enabled(KindMpesaExpress) {
		require("BUSINESS_SHORT_CODE_EXPRESS", c.Express.ShortCode)
		require("PASSKEY", c.Express.PassKey)
		require("MPESA_EXPRESS_CALLBACK_URL", c.Express.CallbackURL)
	}
	if c.Enabled(KindMpesaC2B) {
		require("BUSINESS_SHORT_CODE_C2B", c.C2B.ShortCode)
		require("MPESA_C2B_CALLBACK_URL", c.C2B.CallbackURL)
	}
	if c.Enabled(KindJenga) {
		require("JENGA_MERCHANT_CODE", c.Jenga.MerchantCode)
		require("JENGA_CONSUMER_SECRET", c.Jenga.ConsumerSecret)
		require("JENGA_API_KEY", c.Jenga.APIKey)
		require("JENGA_API_SECRET", c.Jenga.APISecret)
		require("JENGA_CALLBACK_URL", c.Jenga.CallbackURL)
	}
	require("SHOPIFY_STORE", c.Shopify.Store)
	require("SHOPIFY_ACCESS_TOKEN", c.Shopify.AccessToken)
	return errs
}
