// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arnaldorodrigues/webphone"
	"github.com/spf13/viper"
)

type Config struct {
	Session webphone.SessionConfig `mapstructure:"session"`
	Log     LogConfig              `mapstructure:"log"`
	Metrics MetricsConfig          `mapstructure:"metrics"`
	History HistoryConfig          `mapstructure:"history"`
}

type LogConfig struct {
	Level string        `mapstructure:"level"`
	File  LogFileConfig `mapstructure:"file"`
}

// LogFileConfig is rotating file output, disabled with empty filename
type LogFileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	// Addr of metrics http listener. Empty disables it
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

type HistoryConfig struct {
	// Path to sqlite database. Empty disables persistent history
	Path  string `mapstructure:"path"`
	Limit int    `mapstructure:"limit"`
}

func setDefaults(v *viper.Viper) {
	// Every key needs default so env override is picked by Unmarshal
	v.SetDefault("session.ws_server", "")
	v.SetDefault("session.ws_port", 443)
	v.SetDefault("session.ws_path", "/")
	v.SetDefault("session.secure", false)
	v.SetDefault("session.server", "")
	v.SetDefault("session.username", "")
	v.SetDefault("session.password", "")
	v.SetDefault("session.display_name", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.filename", "")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age", 28)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("history.path", "")
	v.SetDefault("history.limit", 100)
}

// loadConfig reads yaml file if given and overlays WEBPHONE_ env variables,
// ex WEBPHONE_SESSION_USERNAME
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("webphone")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("webphone")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/webphone")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}
