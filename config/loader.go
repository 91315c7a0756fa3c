package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading from YAML and Environment variables.
// Priority: Env Vars > YAML > Defaults.
// This loader is immutable. It runs once at startup.
type Loader[T any] struct {
	envPrefix  string
	configPath string
	validate   *validator.Validate
}

func NewLoader[T any](envPrefix, configPath string) *Loader[T] {
	return &Loader[T]{
		envPrefix:  envPrefix,
		configPath: configPath,
		validate:   validator.New(),
	}
}

// Load reads the configuration and validates it.
func (l *Loader[T]) Load() (*T, error) {
	var cfg T

	// 1. Defaults and environment
	if err := envconfig.Process(l.envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to process env vars: %w", err)
	}
	fromEnv := cfg

	// 2. YAML on top of defaults, if the file exists
	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: failed to decode %s: %w", l.configPath, err)
			}
			// 3. Explicitly set env vars win over the file
			overlayEnv(reflect.ValueOf(&cfg).Elem(), reflect.ValueOf(&fromEnv).Elem(), strings.ToUpper(l.envPrefix))
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: failed to read %s: %w", l.configPath, err)
		}
	}

	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// overlayEnv copies into dst every field of src whose env var is set.
func overlayEnv(dst, src reflect.Value, prefix string) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("envconfig")
		if tag == "" && field.Type.Kind() == reflect.Struct {
			overlayEnv(dst.Field(i), src.Field(i), prefix)
			continue
		}
		if tag == "" || tag == "-" {
			continue
		}
		if envSet(prefix, tag) {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

func envSet(prefix, key string) bool {
	if _, ok := os.LookupEnv(key); ok {
		return true
	}
	if prefix == "" {
		return false
	}
	_, ok := os.LookupEnv(prefix + "_" + key)
	return ok
}
