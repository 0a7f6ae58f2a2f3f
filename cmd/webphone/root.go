// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/arnaldorodrigues/webphone"
	"github.com/arnaldorodrigues/webphone/callhistory"
	"github.com/arnaldorodrigues/webphone/media"
	"github.com/arnaldorodrigues/webphone/metrics"
	"github.com/arnaldorodrigues/webphone/sipengine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *Config
	logger     zerolog.Logger
	logCloser  io.Closer = nopCloser{}
)

var rootCmd = &cobra.Command{
	Use:          "webphone",
	Short:        "SIP over websocket softphone",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = c
		logger, logCloser = setupLogger(cfg.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logCloser.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./webphone.yaml)")
	rootCmd.AddCommand(registerCmd, callCmd, historyCmd)
}

// app wires softphone client with its engine, history and metrics
type app struct {
	client     *webphone.Client
	store      *callhistory.Store
	metricsSrv *metrics.Server
	log        zerolog.Logger
}

func newApp(ctx context.Context, cfg *Config, log zerolog.Logger) (*app, error) {
	a := &app{log: log}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	recorders := []webphone.HistoryRecorder{m}

	if cfg.History.Path != "" {
		store, err := callhistory.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.store = store
		recorders = append(recorders, store)
	}

	if cfg.Metrics.Addr != "" {
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, reg)
		if err := a.metricsSrv.Start(ctx); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("starting metrics server: %w", err)
		}
		log.Info().Str("addr", a.metricsSrv.Addr()).Msg("Metrics server started")
	}

	engine := sipengine.New(
		sipengine.WithLogger(log.With().Str("caller", "sipengine").Logger()),
		sipengine.WithUserAgent("webphone"),
	)

	opts := []webphone.ClientOption{
		webphone.WithLogger(log),
		webphone.WithDevices(media.ToneDevices{}),
		webphone.WithAudioSink(newDrainSink(log)),
		webphone.WithHistory(recorders...),
	}
	if cfg.History.Limit > 0 {
		opts = append(opts, webphone.WithRecordsLimit(cfg.History.Limit))
	}
	a.client = webphone.NewClient(engine, opts...)
	a.client.Subscribe(m)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.client != nil {
		a.client.Destroy(ctx)
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(ctx); err != nil {
			a.log.Error().Err(err).Msg("Failed to stop metrics server")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error().Err(err).Msg("Failed to close history store")
		}
	}
}
