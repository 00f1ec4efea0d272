package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var (
	cacheMu sync.Mutex
	cache   = map[reflect.Type]any{}

	dotenvOnce sync.Once
	validate   = validator.New(validator.WithRequiredStructEnabled())
)

// Load parses environment variables into v, validates the result and caches
// it per configuration type.
//
// The default .env file in the working directory is applied once per process,
// if present; variables that are already set take precedence over it. Fields
// are read from `env` and `envDefault` struct tags, then checked against their
// `validate` tags. Parse failures wrap ErrParsingConfig and validation failures
// wrap ErrInvalidConfig. Once a type is loaded, later calls for the same type
// return the cached copy without reading the environment again.
//
// Example:
//
//	type StoreConfig struct {
//		Driver string `env:"STORE_DRIVER" envDefault:"memory" validate:"oneof=memory mongo postgres"`
//		PGURL  string `env:"PG_URL"`
//	}
//
//	var cfg StoreConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	dotenvOnce.Do(func() {
		// a missing .env is not an error
		_ = godotenv.Load()
	})

	key := reflect.TypeFor[T]()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	if reflect.TypeFor[T]().Kind() == reflect.Struct {
		if err := validate.Struct(&parsed); err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
	}

	cache[key] = parsed
	*v = parsed
	return nil
}

// MustLoad works like Load but panics if the configuration cannot be loaded.
// Use it for settings without which the process cannot start.
//
// Example:
//
//	var cfg StoreConfig
//	config.MustLoad(&cfg)
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// LoadEnv applies the given .env files to the process environment,
// overriding variables that are already set. Later files win.
//
// Call it before the first Load of a type; cached types are not re-read.
// Errors wrap ErrLoadingEnvFiles.
//
// Example:
//
//	if err := config.LoadEnv(".env", ".env.local"); err != nil {
//		return err
//	}
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Overload(files...); err != nil {
		return errors.Join(ErrLoadingEnvFiles, err)
	}
	return nil
}

// ResetCache drops every cached configuration, so the next Load of each type
// reads the environment again. Tests use it after changing variables.
func ResetCache() {
	cacheMu.Lock()
	clear(cache)
	cacheMu.Unlock()
}
