package logging

import (
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusHook_CountsByLevel(t *testing.T) {
	registry := prometheus.NewRegistry()
	hook, err := NewPrometheusHook(registry)
	require.NoError(t, err)

	logger := log.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(hook)

	logger.Info("one")
	logger.Info("two")
	logger.Warn("three")

	assert.Equal(t, 2.0, testutil.ToFloat64(hook.counters[log.InfoLevel]))
	assert.Equal(t, 1.0, testutil.ToFloat64(hook.counters[log.WarnLevel]))
	assert.Equal(t, 0.0, testutil.ToFloat64(hook.counters[log.ErrorLevel]))
}

func TestPrometheusHook_RegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPrometheusHook(registry)
	require.NoError(t, err)

	_, err = NewPrometheusHook(registry)
	assert.Error(t, err)
}
