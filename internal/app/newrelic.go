package app

import (
	"github.com/newrelic/go-agent/v3/newrelic"

	"repay/internal/config"
)

// NewNewRelic starts the New Relic agent. It returns nil when monitoring is
// disabled; every instrumented component accepts a nil application.
func NewNewRelic(cfg config.NewRelicConfig) (*newrelic.Application, error) {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil, nil
	}
	return newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
}
