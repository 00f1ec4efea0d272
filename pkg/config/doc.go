// Package config loads typed configuration from the process environment.
//
// Values are parsed with github.com/caarlos0/env/v11 after an optional set of
// .env files is applied with github.com/joho/godotenv. Each struct is then
// checked with github.com/go-playground/validator/v10 using its `validate`
// tags, so a misconfigured process fails on startup instead of on first use.
//
// Parsed structs are cached by type: the first successful Load for a type
// wins and later calls receive a copy of the cached value.
//
//	type StripeConfig struct {
//		SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
//		WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
//		Currency      string `env:"BILLING_CURRENCY" envDefault:"usd" validate:"len=3"`
//	}
//
//	var cfg StripeConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Tests can call ResetCache to force re-parsing after changing the
// environment.
package config
