package metrics

import (
	"time"

	"github.com/rs/zerolog"
)

// Collector records finagg metrics as structured log events.
type Collector struct {
	logger zerolog.Logger
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// Track API request metrics
func (c *Collector) APIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	c.logger.Info().
		Str("metric", "api_request").
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Dur("duration", duration).
		Msg("API request metric")
}

// Track calls to upstream data providers
func (c *Collector) UpstreamRequest(source, path string, statusCode int, duration time.Duration) {
	event := c.logger.Info()
	if statusCode == 0 || statusCode >= 400 {
		event = c.logger.Warn()
	}
	event.
		Str("metric", "upstream_request").
		Str("source", source).
		Str("path", path).
		Int("status_code", statusCode).
		Dur("duration", duration).
		Msg("Upstream request metric")
}

// Track finished scrape runs
func (c *Collector) ScrapeCompleted(runID, pipeline string, rows, failures int, duration time.Duration) {
	c.logger.Info().
		Str("metric", "scrape_completed").
		Str("run_id", runID).
		Str("pipeline", pipeline).
		Int("rows", rows).
		Int("failures", failures).
		Dur("duration", duration).
		Msg("Scrape metric")
}

// Track policy sampling calls
func (c *Collector) PolicySample(transport, kind string, rows int, duration time.Duration) {
	c.logger.Info().
		Str("metric", "policy_sample").
		Str("transport", transport).
		Str("kind", kind).
		Int("rows", rows).
		Dur("duration", duration).
		Msg("Policy sample metric")
}
