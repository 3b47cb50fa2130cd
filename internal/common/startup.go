package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/armadaproject/firehose/internal/common/config"
)

const baseConfigFileName = "config"

// EnvPrefix is prepended to the names of environment variables that override configuration values,
// e.g. FIREHOSE_LOAD_TOTALROWS overrides load.totalRows.
const EnvPrefix = "FIREHOSE"

func BindCommandlineArguments() {
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig loads the default config file found in defaultPath, merges any user supplied override files on top of it,
// applies environment variable overrides and finally unmarshals the result into config.
// The process exits if any of these steps fails.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) *viper.Viper {
	v, err := ReadConfig(viper.GetViper(), defaultPath, overrideConfigs)
	if err == nil {
		err = UnmarshalConfig(v, config)
	}
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
	return v
}

// ReadConfig reads the default config and the overrides into v without unmarshalling them.
func ReadConfig(v *viper.Viper, defaultPath string, overrideConfigs []string) (*viper.Viper, error) {
	v.SetConfigName(baseConfigFileName)
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading default config from %s: %w", defaultPath, err)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merging config override %s: %w", overrideConfig, err)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v, nil
}

// UnmarshalConfig decodes the settings held by v into config using the custom decode hooks.
func UnmarshalConfig(v *viper.Viper, cfg interface{}) error {
	return v.Unmarshal(cfg, config.CustomHooks...)
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// ServeMetrics exposes the default prometheus registry on /metrics at the given port.
// A port of zero disables the server. The returned function shuts the server down.
func ServeMetrics(port uint16) (shutdown func()) {
	if port == 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infof("Serving metrics on port %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Error shutting down metrics server")
		}
	}
}
