// Package config holds runtime configuration for blksched.
// Defaults come from the environment (BLKSCHED_* variables), flags override.
package config

import (
	"os"
	"strconv"
	"time"

	"blksched/internal/errors"
)

// Config holds all configuration options
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// Queue defaults
	Policy          string        // default scheduling policy for new queues
	QueueDepth      int           // request allocation depth per queue
	UnplugThreshold int           // admitted-but-not-in-flight count that forces an unplug
	UnplugDelay     time.Duration // plug timer; 0 disables background unplug

	// Policy switch drain loop
	SwitchRetryInterval time.Duration // backoff between drain attempts
	SwitchMaxRetries    int           // drain attempts before the switch gives up

	// Simulated device defaults
	DeviceTags        int           // concurrent command slots before prepare defers
	DeviceSectorTime  time.Duration // service time per sector
	DeviceErrorRate   float64       // fraction of requests failed with a media error (fault injection)
	DeviceReorder     bool          // allow out-of-order completion
	DeviceFlushTime   time.Duration // cache flush service time
	DeviceQueueTimeMs int           // fixed per-command overhead in ms

	// Output options
	NoColor   bool
	Debug     bool
	LogLevel  string
	LogFormat string
}

// New creates a Config with defaults and environment overrides applied
func New() *Config {
	return &Config{
		Policy:          getEnvString("BLKSCHED_POLICY", "noop"),
		QueueDepth:      getEnvInt("BLKSCHED_QUEUE_DEPTH", 128),
		UnplugThreshold: getEnvInt("BLKSCHED_UNPLUG_THRESHOLD", 4),
		UnplugDelay:     getEnvDuration("BLKSCHED_UNPLUG_DELAY", 3*time.Millisecond),

		SwitchRetryInterval: getEnvDuration("BLKSCHED_SWITCH_RETRY_INTERVAL", 10*time.Millisecond),
		SwitchMaxRetries:    getEnvInt("BLKSCHED_SWITCH_MAX_RETRIES", 100),

		DeviceTags:        getEnvInt("BLKSCHED_DEVICE_TAGS", 32),
		DeviceSectorTime:  getEnvDuration("BLKSCHED_DEVICE_SECTOR_TIME", 0),
		DeviceErrorRate:   getEnvFloat("BLKSCHED_DEVICE_ERROR_RATE", 0),
		DeviceReorder:     getEnvBool("BLKSCHED_DEVICE_REORDER", false),
		DeviceFlushTime:   getEnvDuration("BLKSCHED_DEVICE_FLUSH_TIME", 0),
		DeviceQueueTimeMs: getEnvInt("BLKSCHED_DEVICE_QUEUE_TIME_MS", 0),

		NoColor:   getEnvBool("NO_COLOR", false),
		Debug:     getEnvBool("BLKSCHED_DEBUG", false),
		LogLevel:  getEnvString("BLKSCHED_LOG_LEVEL", "info"),
		LogFormat: getEnvString("BLKSCHED_LOG_FORMAT", "text"),
	}
}

// Validate checks the configuration for invalid combinations
func (c *Config) Validate() error {
	if c.Policy == "" {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			"default policy name is empty",
			"Set --policy or BLKSCHED_POLICY to a registered policy name")
	}
	if c.QueueDepth <= 0 {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			"queue depth must be positive",
			"Set --depth to a value >= 1")
	}
	if c.UnplugThreshold <= 0 {
		return errors.NewConfigError(errors.ErrCodeInvalidThreshold,
			"unplug threshold must be positive",
			"Set --unplug-threshold to a value >= 1 (the sampled default is 4)")
	}
	if c.UnplugDelay < 0 {
		return errors.NewConfigError(errors.ErrCodeInvalidThreshold,
			"unplug delay cannot be negative",
			"Use 0 to disable the plug timer")
	}
	if c.SwitchMaxRetries <= 0 {
		return errors.NewConfigError(errors.ErrCodeInvalidConfig,
			"switch retry bound must be positive",
			"Set --switch-retries to a value >= 1")
	}
	if c.DeviceErrorRate < 0 || c.DeviceErrorRate > 1 {
		return errors.NewConfigError(errors.ErrCodeInvalidOption,
			"device error rate must be within [0,1]", "")
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
