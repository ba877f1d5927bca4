package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved listen address
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Quarry", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("action_cache", config.Storage.ActionCache).
		Str("results", config.Storage.Results).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Msg("Quarry extraction service")
}
