// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"io"
	"os"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogger configures global logger. LOG_LEVEL env wins over config.
func setupLogger(cfg LogConfig) (zerolog.Logger, io.Closer) {
	lev := zerolog.InfoLevel
	level := cfg.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if l, err := zerolog.ParseLevel(level); err == nil && level != "" {
		lev = l
	}

	var closer io.Closer = nopCloser{}
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}}
	if cfg.File.Filename != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		writers = append(writers, lj)
		closer = lj
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lev).With().Timestamp().Logger()
	log.Logger = logger
	zerolog.SetGlobalLevel(lev)

	sip.SIPDebug = os.Getenv("SIP_DEBUG") == "true"
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
