// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitializing = errors.New("webphone: initialize already in progress")
	ErrNotInitialized      = errors.New("webphone: client not initialized")
	ErrNotRegistered       = errors.New("webphone: client not registered")
	ErrNoIncomingSession   = errors.New("webphone: no incoming session")
	ErrCallInProgress      = errors.New("webphone: call already in progress")
	ErrNoActiveCall        = errors.New("webphone: no active call")
	ErrHoldInProgress      = errors.New("webphone: hold renegotiation in progress")

	// Invite errors the user can act on
	ErrNoMicrophone               = errors.New("webphone: no microphone found")
	ErrMicrophonePermissionDenied = errors.New("webphone: microphone permission denied")
	ErrMicrophoneBusy             = errors.New("webphone: microphone is used by another application")
	ErrIncompatibleCodecs         = errors.New("webphone: remote party does not support offered codecs")
)

// ConfigError is returned by SessionConfig validation
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("webphone: invalid config %s: %s", e.Field, e.Reason)
}

type TransportStartError struct {
	URL string
	Err error
}

func (e *TransportStartError) Error() string {
	return fmt.Sprintf("webphone: transport start %s failed: %s", e.URL, e.Err)
}

func (e *TransportStartError) Unwrap() error { return e.Err }

// RegistrationError carries final status of failed REGISTER when known
type RegistrationError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("webphone: registration failed: %d %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("webphone: registration failed: %s", e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// InviteError is generic invite failure. Kind wraps one of user actionable
// sentinel errors when failure could be classified.
type InviteError struct {
	Target string
	Kind   error
	Err    error
}

func (e *InviteError) Error() string {
	if e.Kind != nil {
		return fmt.Sprintf("webphone: invite %s failed: %s", e.Target, e.Kind)
	}
	return fmt.Sprintf("webphone: invite %s failed: %s", e.Target, e.Err)
}

func (e *InviteError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ResponseError is final non 2xx response received by engine
type ResponseError struct {
	StatusCode int
	Reason     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("webphone: response %d %s", e.StatusCode, e.Reason)
}
