// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arnaldorodrigues/webphone"
	"github.com/arnaldorodrigues/webphone/callhistory"
	"github.com/spf13/cobra"
)

var (
	autoAnswer   bool
	callDuration time.Duration
	callDTMF     string
	historyLimit int
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register and wait for incoming calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRegister(ctx)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <number>",
	Short: "Register, dial number and hang up after duration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCall(ctx, args[0])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List persisted call history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd.Context())
	},
}

func init() {
	registerCmd.Flags().BoolVar(&autoAnswer, "auto-answer", false, "answer incoming calls automatically")
	callCmd.Flags().DurationVar(&callDuration, "duration", 30*time.Second, "hang up after call is answered for this long")
	callCmd.Flags().StringVar(&callDTMF, "dtmf", "", "digits sent once call is answered")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", callhistory.DefaultListLimit, "max records listed")
}

func runRegister(ctx context.Context) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	a.client.Subscribe(webphone.ObserverFuncs{
		OnIncomingCall: func(remoteNumber string, s webphone.Session) {
			logger.Info().Str("from", remoteNumber).Msg("Incoming call")
			if !autoAnswer {
				return
			}
			go func() {
				if err := a.client.AnswerCall(ctx); err != nil {
					logger.Error().Err(err).Msg("Auto answer failed")
				}
			}()
		},
		OnCallStateChanged: logCallState,
		OnRegistrationStateChanged: func(registered bool) {
			logger.Info().Bool("registered", registered).Msg("Registration state")
		},
		OnDTMFReceived: logDTMF,
		OnError: func(err error) {
			logger.Error().Err(err).Msg("Softphone error")
		},
	})

	if err := a.client.Initialize(ctx, cfg.Session); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	return nil
}

func runCall(ctx context.Context, number string) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	answered := make(chan struct{}, 1)
	ended := make(chan webphone.CallOutcome, 1)
	a.client.Subscribe(webphone.ObserverFuncs{
		OnCallStateChanged: func(state webphone.CallState) {
			logCallState(state)
			if state.IsCallActive && state.CallStartTime != nil {
				select {
				case answered <- struct{}{}:
				default:
				}
			}
			if state.Outcome != nil {
				select {
				case ended <- *state.Outcome:
				default:
				}
			}
		},
		OnDTMFReceived: logDTMF,
		OnError: func(err error) {
			logger.Error().Err(err).Msg("Softphone error")
		},
	})

	if err := a.client.Initialize(ctx, cfg.Session); err != nil {
		return err
	}
	if err := a.client.MakeCall(ctx, number); err != nil {
		return err
	}

	select {
	case <-answered:
	case outcome := <-ended:
		return fmt.Errorf("call ended: %s", outcome)
	case <-ctx.Done():
		a.client.Hangup(context.Background())
		return nil
	}

	if callDTMF != "" && !a.client.SendDTMF(ctx, callDTMF) {
		logger.Warn().Str("digits", callDTMF).Msg("DTMF not sent")
	}

	t := time.NewTimer(callDuration)
	defer t.Stop()
	select {
	case <-t.C:
		a.client.Hangup(ctx)
	case outcome := <-ended:
		logger.Info().Str("outcome", outcome.String()).Msg("Call ended by remote")
		return nil
	case <-ctx.Done():
		a.client.Hangup(context.Background())
	}

	select {
	case outcome := <-ended:
		logger.Info().Str("outcome", outcome.String()).Msg("Call ended")
	case <-time.After(5 * time.Second):
	}
	return nil
}

func runHistory(ctx context.Context) error {
	if cfg.History.Path == "" {
		return fmt.Errorf("history.path is not configured")
	}
	store, err := callhistory.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	return printHistory(os.Stdout, records)
}

func logDTMF(digit rune) {
	logger.Info().Str("digit", string(digit)).Msg("Remote pressed key")
}

func logCallState(state webphone.CallState) {
	ev := logger.Info().
		Bool("active", state.IsCallActive).
		Bool("incoming", state.IncomingCall).
		Str("remote", state.RemoteNumber).
		Int("duration", state.CallDuration).
		Bool("muted", state.IsMuted).
		Bool("hold", state.IsOnHold)
	if state.Outcome != nil {
		ev = ev.Str("outcome", state.Outcome.String())
	}
	ev.Msg("Call state")
}
