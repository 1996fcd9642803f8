package password

import (
	"fmt"
	"runtime"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the envconfig prefix shared by every gatehouse setting.
const EnvPrefix = "GATEHOUSE"

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as
// required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds acceptable plaintext passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline used when no overrides are set.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 6,
			MaxLength: 256,
		},
	}
}

// envSpec is the raw environment surface. Zero numeric values keep the
// DefaultConfig value.
type envSpec struct {
	MinLength      int    `envconfig:"PASSWORD_MIN_LEN"`
	MaxLength      int    `envconfig:"PASSWORD_MAX_LEN"`
	RejectVeryWeak bool   `envconfig:"PASSWORD_REJECT_VERY_WEAK"`
	MemoryKiB      uint32 `envconfig:"ARGON2_MEMORY_KIB"`
	Iterations     uint32 `envconfig:"ARGON2_ITERATIONS"`
	Parallelism    uint8  `envconfig:"ARGON2_PARALLELISM"`
	SaltLength     uint32 `envconfig:"ARGON2_SALT_LEN"`
	KeyLength      uint32 `envconfig:"ARGON2_KEY_LEN"`
}

// FromEnv loads config from GATEHOUSE_PASSWORD_* and GATEHOUSE_ARGON2_*
// variables on top of DefaultConfig.
func FromEnv() (Config, error) {
	var spec envSpec
	if err := envconfig.Process(EnvPrefix, &spec); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = spec.RejectVeryWeak

	checks := []struct {
		name     string
		val      uint64
		min, max uint64
		apply    func()
	}{
		{"PASSWORD_MIN_LEN", uint64(max(spec.MinLength, 0)), 1, 1024, func() { cfg.Policy.MinLength = spec.MinLength }},
		{"PASSWORD_MAX_LEN", uint64(max(spec.MaxLength, 0)), 1, 4096, func() { cfg.Policy.MaxLength = spec.MaxLength }},
		{"ARGON2_MEMORY_KIB", uint64(spec.MemoryKiB), 8 * 1024, 1024 * 1024, func() { cfg.Params.MemoryKiB = spec.MemoryKiB }},
		{"ARGON2_ITERATIONS", uint64(spec.Iterations), 1, 20, func() { cfg.Params.Iterations = spec.Iterations }},
		{"ARGON2_PARALLELISM", uint64(spec.Parallelism), 1, 64, func() { cfg.Params.Parallelism = spec.Parallelism }},
		{"ARGON2_SALT_LEN", uint64(spec.SaltLength), 8, 64, func() { cfg.Params.SaltLength = spec.SaltLength }},
		{"ARGON2_KEY_LEN", uint64(spec.KeyLength), 16, 64, func() { cfg.Params.KeyLength = spec.KeyLength }},
	}
	for _, c := range checks {
		if c.val == 0 {
			continue
		}
		if c.val < c.min || c.val > c.max {
			return Config{}, fmt.Errorf("%w: %s_%s out of range [%d..%d]", ErrConfig, EnvPrefix, c.name, c.min, c.max)
		}
		c.apply()
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrConfig, cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}

	return cfg, nil
}
