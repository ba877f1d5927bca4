package extraction

import (
	"time"

	"github.com/ternarybob/quarry/internal/common"
)

// Options are the engine's timing and retry knobs
type Options struct {
	LoginPollInterval     time.Duration
	LoginTimeout          time.Duration // 0 waits forever
	PageSettleInterval    time.Duration
	MaxPages              int // 0 = unbounded
	MaxAttempts           int
	InitialBackoff        time.Duration
	CacheFailureThreshold int
}

// DefaultOptions returns the production timings
func DefaultOptions() Options {
	return Options{
		LoginPollInterval:     30 * time.Second,
		LoginTimeout:          10 * time.Minute,
		PageSettleInterval:    10 * time.Second,
		MaxAttempts:           3,
		InitialBackoff:        time.Second,
		CacheFailureThreshold: 2,
	}
}

// OptionsFromConfig parses the [extraction] section, falling back to defaults
func OptionsFromConfig(config *common.ExtractionConfig) Options {
	opts := DefaultOptions()
	if config == nil {
		return opts
	}

	// Config.Validate has already rejected malformed durations
	opts.LoginPollInterval = durationOr(config.LoginPollInterval, opts.LoginPollInterval)
	opts.LoginTimeout = durationOr(config.LoginTimeout, opts.LoginTimeout)
	opts.PageSettleInterval = durationOr(config.PageSettleInterval, opts.PageSettleInterval)
	opts.InitialBackoff = durationOr(config.InitialBackoff, opts.InitialBackoff)
	opts.MaxPages = config.MaxPages

	if config.MaxAttempts > 0 {
		opts.MaxAttempts = config.MaxAttempts
	}
	if config.CacheFailureThreshold > 0 {
		opts.CacheFailureThreshold = config.CacheFailureThreshold
	}

	return opts
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := common.ParseDuration(value, fallback)
	if err != nil {
		return fallback
	}
	return d
}
