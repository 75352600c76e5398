// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.True(t, cfg.Browser().Headless)
	assert.True(t, cfg.Browser().Stealth)
	assert.Equal(t, "https://ask.u.ae/en/", cfg.Target().BaseURL)
	assert.Equal(t, []string{"en"}, cfg.Target().Languages)
	assert.Equal(t, 3, cfg.Readiness().MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Readiness().CaptchaPollInterval)
	assert.Equal(t, 30*time.Second, cfg.Readiness().CaptchaWaitCeiling)
	assert.Equal(t, 3, cfg.Chat().StablePolls)
	assert.Equal(t, 0.5, cfg.Validation().SimilarityThreshold)
	assert.Equal(t, 1, cfg.Runner().Parallelism)
	assert.Equal(t, "reports", cfg.Runner().OutputDir)
}

func TestTargetURLFor(t *testing.T) {
	target := TargetConfig{BaseURL: "https://ask.u.ae/en/"}
	assert.Equal(t, "https://ask.u.ae/ar/", target.URLFor("ar"))
	assert.Equal(t, "https://ask.u.ae/en/", target.URLFor("en"))
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		// Start with a valid default config.
		cfg := NewDefaultConfig()

		// Test Case: Valid Config
		err := cfg.Validate()
		assert.NoError(t, err, "A valid config should not produce a validation error")

		// Test Case: Missing Base URL
		cfgNoTarget := *cfg
		cfgNoTarget.TargetC.BaseURL = ""
		err = cfgNoTarget.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "target.base_url is a required configuration field")

		// Test Case: Relative Base URL
		cfgRelative := *cfg
		cfgRelative.TargetC.BaseURL = "/en/"
		err = cfgRelative.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "target.base_url must be an absolute URL")

		// Test Case: No Languages
		cfgNoLang := *cfg
		cfgNoLang.TargetC.Languages = nil
		err = cfgNoLang.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "target.languages must name at least one language")

		// Test Case: Invalid Runner Parallelism
		cfgInvalidRunner := *cfg
		cfgInvalidRunner.RunnerC.Parallelism = 0
		err = cfgInvalidRunner.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "runner.parallelism must be a positive integer")
	})

	t.Run("Readiness Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		invalidRetries := *cfg
		invalidRetries.ReadinessC.MaxRetries = 0
		err := invalidRetries.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "readiness.max_retries must be a positive integer")

		invalidPoll := *cfg
		invalidPoll.ReadinessC.CaptchaPollInterval = 0
		err = invalidPoll.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "readiness.captcha_poll_interval must be a positive duration")

		invalidCeiling := *cfg
		invalidCeiling.ReadinessC.CaptchaWaitCeiling = time.Second
		err = invalidCeiling.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "readiness.captcha_wait_ceiling must be at least one poll interval")
	})

	t.Run("Validation Thresholds", func(t *testing.T) {
		cfg := NewDefaultConfig()

		invalidSimilarity := *cfg
		invalidSimilarity.ValidationC.SimilarityThreshold = 1.5
		err := invalidSimilarity.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "validation.similarity_threshold must be between 0.0 and 1.0")

		invalidPolls := *cfg
		invalidPolls.ChatC.StablePolls = 0
		err = invalidPolls.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "chat.stable_polls must be a positive integer")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
target:
  base_url: "https://chat.example.gov/en/"
  languages: ["en", "ar"]
runner:
  parallelism: 2
readiness:
  max_retries: 5
`)
		v := viper.New()
		SetDefaults(v) // Set defaults first
		v.SetConfigType("yaml")
		err := v.ReadConfig(bytes.NewBuffer(yamlBytes))
		require.NoError(t, err)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "https://chat.example.gov/en/", cfg.Target().BaseURL)
		assert.Equal(t, []string{"en", "ar"}, cfg.Target().Languages)
		assert.Equal(t, 2, cfg.Runner().Parallelism)
		assert.Equal(t, 5, cfg.Readiness().MaxRetries)
		// Check a default value was also loaded.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("runner.parallelism", 0) // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "runner.parallelism must be a positive integer")
	})

	t.Run("Environment Variable Override", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetEnvPrefix("CHATPROBE")
		v.SetEnvKeyReplacer(newEnvKeyReplacer())
		v.AutomaticEnv()

		t.Setenv("CHATPROBE_LOGGER_LEVEL", "debug")
		t.Setenv("CHATPROBE_TARGET_BASE_URL", "https://staging.ask.u.ae/en/")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "debug", cfg.Logger().Level)
		assert.Equal(t, "https://staging.ask.u.ae/en/", cfg.Target().BaseURL)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/chatprobe.log
network:
  navigation_timeout: 45s
browser:
  viewport:
    width: 1366
    height: 768
chat:
  response_timeout: 90s
`
	v := viper.New()
	SetDefaults(v) // Set defaults first
	v.SetConfigType("yaml")
	err := v.ReadConfig(bytes.NewBufferString(yamlInput))
	require.NoError(t, err)

	var cfg Config
	err = v.Unmarshal(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/chatprobe.log", cfg.Logger().LogFile)
	assert.Equal(t, 45*time.Second, cfg.Network().NavigationTimeout)
	assert.Equal(t, 1366, cfg.Browser().Viewport["width"])
	assert.Equal(t, 90*time.Second, cfg.Chat().ResponseTimeout)
}
