package observability

import (
	"testing"

	"github.com/smallbiznis/finledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigLogOutputs(t *testing.T) {
	t.Setenv("LOG_OUTPUT", " stderr , ,/var/log/finledger/import.log")
	t.Setenv("OTEL_SAMPLING_RATIO", "4")

	cfg := LoadConfig(config.Config{AppName: "finledger-importer", Environment: "production"})
	assert.Equal(t, "finledger-importer", cfg.ServiceName)
	assert.Equal(t, []string{"stderr", "/var/log/finledger/import.log"}, cfg.LogOutputs)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	logCfg := provideLoggerConfig(cfg)
	assert.Equal(t, cfg.LogOutputs, logCfg.OutputPaths)
}

func TestLoadConfigDefaultsToStdout(t *testing.T) {
	t.Setenv("LOG_OUTPUT", "")
	t.Setenv("DEPLOYMENT_ENV", "test")

	cfg := LoadConfig(config.Config{})
	assert.Equal(t, "finledger", cfg.ServiceName)
	assert.Nil(t, cfg.LogOutputs)
	assert.True(t, cfg.Debug())
}
