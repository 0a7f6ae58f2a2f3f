// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Package metrics exposes client activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"

	"github.com/arnaldorodrigues/webphone"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "webphone"

// Metrics observes client and records terminated calls. Register it with
// Client.Subscribe and WithHistory.
type Metrics struct {
	CallsTotal         *prometheus.CounterVec
	CallDuration       *prometheus.HistogramVec
	IncomingCallsTotal prometheus.Counter
	ActiveCalls        prometheus.Gauge
	Registered         prometheus.Gauge
	DTMFReceivedTotal  prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
}

var (
	_ webphone.Observer        = (*Metrics)(nil)
	_ webphone.HistoryRecorder = (*Metrics)(nil)
)

// New creates metrics registered on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of terminated calls",
			},
			[]string{"direction", "outcome"},
		),
		CallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Duration of answered calls in seconds",
				Buckets:   prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~43m
			},
			[]string{"direction"},
		),
		IncomingCallsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_calls_total",
				Help:      "Total number of incoming calls offered to user",
			},
		),
		ActiveCalls: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_calls",
				Help:      "Number of established calls",
			},
		),
		Registered: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered",
				Help:      "Registration state (0=unregistered, 1=registered)",
			},
		),
		DTMFReceivedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dtmf_received_total",
				Help:      "Total number of DTMF digits received from remote",
			},
		),
		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors reported by client",
			},
			[]string{"type"},
		),
	}
}

func (m *Metrics) IncomingCall(remoteNumber string, s webphone.Session) {
	m.IncomingCallsTotal.Inc()
}

func (m *Metrics) CallStateChanged(state webphone.CallState) {
	if state.IsCallActive {
		m.ActiveCalls.Set(1)
		return
	}
	m.ActiveCalls.Set(0)
}

func (m *Metrics) RegistrationStateChanged(registered bool) {
	if registered {
		m.Registered.Set(1)
		return
	}
	m.Registered.Set(0)
}

func (m *Metrics) DTMFReceived(digit rune) {
	m.DTMFReceivedTotal.Inc()
}

func (m *Metrics) Error(err error) {
	m.ErrorsTotal.WithLabelValues(errorType(err)).Inc()
}

func (m *Metrics) RecordCall(ctx context.Context, rec webphone.CallRecord) error {
	m.CallsTotal.WithLabelValues(string(rec.Direction), string(rec.Outcome.Kind)).Inc()
	if !rec.Timers.AnsweredAt.IsZero() {
		m.CallDuration.WithLabelValues(string(rec.Direction)).Observe(rec.Timers.Duration().Seconds())
	}
	return nil
}

// errorType keeps label cardinality bounded
func errorType(err error) string {
	var (
		configErr    *webphone.ConfigError
		transportErr *webphone.TransportStartError
		regErr       *webphone.RegistrationError
		inviteErr    *webphone.InviteError
		resErr       *webphone.ResponseError
	)
	switch {
	case errors.As(err, &configErr):
		return "config"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &regErr):
		return "registration"
	case errors.Is(err, webphone.ErrNoMicrophone),
		errors.Is(err, webphone.ErrMicrophonePermissionDenied),
		errors.Is(err, webphone.ErrMicrophoneBusy):
		return "microphone"
	case errors.As(err, &inviteErr):
		return "invite"
	case errors.As(err, &resErr):
		return "response"
	}
	return "other"
}
