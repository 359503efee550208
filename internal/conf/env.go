// env.go - environment variable configuration
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "AUDIORM_DEBUG", validateEnvBool},
		{"logging.default_level", "AUDIORM_LOG_LEVEL", validateEnvLogLevel},
		{"logging.file_output.enabled", "AUDIORM_LOG_FILE", validateEnvBool},
		{"telemetry.enabled", "AUDIORM_TELEMETRY", validateEnvBool},
		{"telemetry.listen", "AUDIORM_TELEMETRY_LISTEN", validateEnvListen},
		{"arbiter.suspend_drain_max", "AUDIORM_SUSPEND_DRAIN_MAX", validateEnvDuration},
		{"platform.lpi_supported", "AUDIORM_LPI", validateEnvBool},
	}
}

// bindEnvVars binds environment variables to config keys and reports
// malformed values.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvListen(value string) error {
	_, _, err := net.SplitHostPort(value)
	return err
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
