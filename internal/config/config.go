// Package config loads packfs settings from PACKFS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"
	"golang.org/x/time/rate"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/security"
	"github.com/fclairamb/packfs/internal/storage/local"
)

// EnvPrefix is the prefix of every environment variable read.
const EnvPrefix = "PACKFS_"

// Size units.
const (
	bytesPerKB = 1024
	bytesPerMB = 1024 * bytesPerKB
	bytesPerGB = 1024 * bytesPerMB
)

// Keys, as they appear after the prefix is stripped.
const (
	KeyMaxInputSize        = "max_input_size"
	KeyMaxUncompressedSize = "max_uncompressed_size"
	KeyMaxEntryCount       = "max_entry_count"
	KeyMaxFileSize         = "max_file_size"
	KeyLogFormat           = "log_format"
	KeyWriteRate           = "write_rate"
	KeyGitUser             = "git_user"
	KeyGitEmail            = "git_email"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

var validate = validator.New()

// Config holds packfs settings.
type Config struct {
	// Resource limits for archive input.
	MaxInputSize        int64 `validate:"gt=0"`
	MaxUncompressedSize int64 `validate:"gt=0,gtefield=MaxFileSize"`
	MaxEntryCount       int   `validate:"gt=0"`
	MaxFileSize         int64 `validate:"gt=0"`

	// LogFormat selects the slog handler.
	LogFormat string `validate:"oneof=text json"`

	// WriteRate caps saves per second when flushing many files (0 = unlimited).
	WriteRate float64 `validate:"gte=0"`

	// Author of commits made by extract --commit.
	GitUser  string `validate:"omitempty,max=256"`
	GitEmail string `validate:"omitempty,email"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxInputSize:        security.DefaultMaxInputSize,
		MaxUncompressedSize: security.DefaultMaxUncompressedSize,
		MaxEntryCount:       security.DefaultMaxEntryCount,
		MaxFileSize:         security.DefaultMaxFileSize,
		LogFormat:           LogFormatText,
	}
}

// LoadEnv loads PACKFS_* variables into k. PACKFS_MAX_FILE_SIZE becomes
// the key "max_file_size".
func LoadEnv(k *koanf.Koanf) error {
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), strings.TrimSpace(value)
		},
	}), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// FromKoanf builds and validates a Config from k. Unset or "0" values
// keep their defaults.
func FromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := Default()

	var errs []error
	sizes := []struct {
		key    string
		target *int64
	}{
		{KeyMaxInputSize, &cfg.MaxInputSize},
		{KeyMaxUncompressedSize, &cfg.MaxUncompressedSize},
		{KeyMaxFileSize, &cfg.MaxFileSize},
	}
	for _, s := range sizes {
		if err := parseSizeKey(k, s.key, s.target); err != nil {
			errs = append(errs, err)
		}
	}

	if raw := k.String(KeyMaxEntryCount); raw != "" && raw != "0" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyMaxEntryCount, err))
		} else {
			cfg.MaxEntryCount = n
		}
	}

	if raw := k.String(KeyWriteRate); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", KeyWriteRate, err))
		} else {
			cfg.WriteRate = r
		}
	}

	if format := strings.ToLower(k.String(KeyLogFormat)); format != "" {
		cfg.LogFormat = format
	}
	cfg.GitUser = k.String(KeyGitUser)
	cfg.GitEmail = k.String(KeyGitEmail)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseSizeKey(k *koanf.Koanf, key string, target *int64) error {
	raw := k.String(key)
	if raw == "" || raw == "0" {
		return nil
	}
	size, err := ParseSize(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = size
	return nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}
	return nil
}

// Limits returns the archive resource limits.
func (c *Config) Limits() security.Limits {
	return security.Limits{
		MaxInputSize:        c.MaxInputSize,
		MaxUncompressedSize: c.MaxUncompressedSize,
		MaxEntryCount:       c.MaxEntryCount,
		MaxFileSize:         c.MaxFileSize,
	}
}

// WriteLimit returns the save pacing as a rate and burst. A zero rate
// means unlimited.
func (c *Config) WriteLimit() (rate.Limit, int) {
	if c.WriteRate <= 0 {
		return 0, 0
	}
	return rate.Limit(c.WriteRate), max(1, int(math.Ceil(c.WriteRate)))
}

// GitAuthor returns the commit author.
func (c *Config) GitAuthor() local.Author {
	return local.Author{Name: c.GitUser, Email: c.GitEmail}
}

// sizeUnits is ordered so longer suffixes are tried first.
var sizeUnits = []struct {
	suffix     string
	multiplier int64
}{
	{"GB", bytesPerGB},
	{"MB", bytesPerMB},
	{"KB", bytesPerKB},
	{"B", 1},
}

// ParseSize parses a byte size such as "5MB", "100KB", "1.5GB" or "2048".
func ParseSize(val string) (int64, error) {
	val = strings.ToUpper(strings.TrimSpace(val))
	if val == "" {
		return 0, fmt.Errorf("%w: empty size", apperrors.ErrInvalidSize)
	}

	// Try parsing as plain bytes
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%w: %q is negative", apperrors.ErrInvalidSize, val)
		}
		return n, nil
	}

	for _, unit := range sizeUnits {
		numStr, found := strings.CutSuffix(val, unit.suffix)
		if !found {
			continue
		}
		num, err := strconv.ParseFloat(strings.TrimSpace(numStr), 64)
		if err != nil || num < 0 {
			return 0, fmt.Errorf("%w: %q", apperrors.ErrInvalidSize, val)
		}
		return int64(num * float64(unit.multiplier)), nil
	}

	return 0, fmt.Errorf("%w: %q", apperrors.ErrInvalidSize, val)
}
