package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Server.PublicURL = expandEnvVars(cfg.Server.PublicURL)
	cfg.Twilio.AccountSID = expandEnvVars(cfg.Twilio.AccountSID)
	cfg.Twilio.AuthToken = expandEnvVars(cfg.Twilio.AuthToken)
	cfg.Realtime.APIKey = expandEnvVars(cfg.Realtime.APIKey)
	cfg.Completion.APIKey = expandEnvVars(cfg.Completion.APIKey)
}

// LoadEnvFile loads KEY=value pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ConfigError{Message: "failed to load " + path + ": " + err.Error()}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and applies defaults, environment overrides
// and ${VAR} expansion.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	expandSensitiveFields(cfg)
	return nil
}

// applyEnvOverrides reads VOICEBRIDGE_* environment variables and overrides
// config values. Provider credentials also fall back to their conventional
// variable names when unset.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOICEBRIDGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VOICEBRIDGE_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("VOICEBRIDGE_VALIDATE_SIGNATURES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.ValidateSignatures = b
		}
	}
	if v := os.Getenv("VOICEBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("VOICEBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv("VOICEBRIDGE_KNOWLEDGE_PATH"); v != "" {
		cfg.Knowledge.Path = v
	}

	override(&cfg.Twilio.AccountSID, "VOICEBRIDGE_TWILIO_ACCOUNT_SID", "TWILIO_ACCOUNT_SID")
	override(&cfg.Twilio.AuthToken, "VOICEBRIDGE_TWILIO_AUTH_TOKEN", "TWILIO_AUTH_TOKEN")
	override(&cfg.Twilio.PhoneNumber, "VOICEBRIDGE_TWILIO_PHONE_NUMBER", "TWILIO_PHONE_NUMBER")
	override(&cfg.Realtime.APIKey, "VOICEBRIDGE_REALTIME_API_KEY", "OPENAI_API_KEY")
	override(&cfg.Completion.APIKey, "VOICEBRIDGE_COMPLETION_API_KEY", "GEMINI_API_KEY")
}

// override sets *dst from key, or from fallback when *dst is still empty.
func override(dst *string, key, fallback string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
		return
	}
	if *dst == "" {
		*dst = os.Getenv(fallback)
	}
}
