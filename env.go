package courier

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv and LoadFile.
const (
	EnvHost            = "SMTP_HOST"
	EnvPort            = "SMTP_PORT"
	EnvEncryption      = "SMTP_ENCRYPTION"
	EnvTimeout         = "SMTP_TIMEOUT"
	EnvUsername        = "SMTP_USERNAME"
	EnvPassword        = "SMTP_PASSWORD"
	EnvCommandTimeout  = "SMTP_COMMAND_TIMEOUT"
	EnvBase64LineWidth = "SMTP_BASE64_LINE_WIDTH"
	EnvLocalName       = "SMTP_LOCAL_NAME"
)

// LookupFunc returns the value of an environment variable and whether it is
// set. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// FromEnv builds a Configuration from environment variables. Unset or invalid
// values keep their defaults.
func FromEnv(lookup LookupFunc) Configuration {
	cfg := DefaultConfiguration()
	applyEnv(&cfg, lookup)
	return cfg
}

// fileConfig is the YAML layout accepted by LoadFile.
type fileConfig struct {
	Server struct {
		Hostname   string `yaml:"hostname"`
		Port       int    `yaml:"port"`
		Encryption string `yaml:"encryption"`
	} `yaml:"server"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	Credentials       *struct {
		Username   string   `yaml:"username"`
		Password   string   `yaml:"password"`
		Mechanisms []string `yaml:"mechanisms"`
	} `yaml:"credentials"`
	Base64LineWidth int    `yaml:"base64_line_width"`
	LocalName       string `yaml:"local_name"`
}

// LoadFile loads configuration from a YAML file as the base layer, then
// overrides it with environment variables. Unlike the environment, invalid
// values in the file are errors.
func LoadFile(path string, lookup LookupFunc) (Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Configuration{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := DefaultConfiguration()
	if fc.Server.Hostname != "" {
		cfg.Server.Hostname = fc.Server.Hostname
	}
	cfg.Server.Port = fc.Server.Port
	if fc.Server.Encryption != "" {
		enc, err := ParseEncryption(fc.Server.Encryption)
		if err != nil {
			return Configuration{}, fmt.Errorf("config file: %w", err)
		}
		cfg.Server.Encryption = enc
	}
	if fc.ConnectionTimeout != 0 {
		cfg.ConnectionTimeout = fc.ConnectionTimeout
	}
	if fc.CommandTimeout != 0 {
		cfg.CommandTimeout = fc.CommandTimeout
	}
	if fc.Credentials != nil && fc.Credentials.Username != "" {
		cfg.Credentials = &Credentials{
			Username:   fc.Credentials.Username,
			Password:   fc.Credentials.Password,
			Mechanisms: fc.Credentials.Mechanisms,
		}
	}
	if fc.Base64LineWidth != 0 {
		flags, ok := lineWidthFlags(fc.Base64LineWidth)
		if !ok {
			return Configuration{}, fmt.Errorf("config file: base64_line_width must be 64 or 76, got %d", fc.Base64LineWidth)
		}
		cfg.Features = flags
	}
	cfg.LocalName = fc.LocalName

	applyEnv(&cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

func lineWidthFlags(width int) (FeatureFlags, bool) {
	switch width {
	case 64:
		return Base64Line64, true
	case 76:
		return Base64Line76, true
	default:
		return 0, false
	}
}

// applyEnv overrides cfg with variables that are set to valid values.
func applyEnv(cfg *Configuration, lookup LookupFunc) {
	if lookup == nil {
		return
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvHost); ok {
		cfg.Server.Hostname = v
	}
	if v, ok := get(EnvEncryption); ok {
		if enc, err := ParseEncryption(v); err == nil {
			cfg.Server.Encryption = enc
		}
	}
	if v, ok := get(EnvPort); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Server.Port = port
		}
	}
	if v, ok := get(EnvTimeout); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ConnectionTimeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := get(EnvCommandTimeout); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CommandTimeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := get(EnvUsername); ok {
		password, _ := lookup(EnvPassword)
		creds := &Credentials{Username: v, Password: password}
		if cfg.Credentials != nil {
			creds.Mechanisms = cfg.Credentials.Mechanisms
		}
		cfg.Credentials = creds
	} else if v, ok := get(EnvPassword); ok && cfg.Credentials != nil {
		cfg.Credentials.Password = v
	}
	if v, ok := get(EnvBase64LineWidth); ok {
		if width, err := strconv.Atoi(v); err == nil {
			if flags, ok := lineWidthFlags(width); ok {
				cfg.Features = flags
			}
		}
	}
	if v, ok := get(EnvLocalName); ok {
		cfg.LocalName = v
	}
}
