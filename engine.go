// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"context"

	"github.com/arnaldorodrigues/webphone/media"
)

// Engine is SIP stack driving registration and dialogs. Client orchestrates it
// and never encodes SIP itself. See sipengine package for sipgo based engine.
type Engine interface {
	// Start opens transport and installs handler for inbound events
	Start(ctx context.Context, cfg SessionConfig, h EngineHandler) error
	Register(ctx context.Context) error
	Unregister(ctx context.Context) error
	// Stop closes transport and terminates all dialogs
	Stop(ctx context.Context) error
	// Invite sends INVITE to target and returns once request is sent.
	// Answer or failure is reported through session state changes.
	Invite(ctx context.Context, target string, local *media.Stream) (Session, error)
}

// EngineHandler receives inbound events. Calls are made from engine goroutines.
type EngineHandler interface {
	HandleInvite(s Session)
	// HandleDisconnect is called when transport drops or binding refresh fails
	HandleDisconnect(err error)
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type SessionState int

const (
	SessionInitial SessionState = iota
	SessionEstablishing
	SessionEstablished
	SessionTerminating
	SessionTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionInitial:
		return "Initial"
	case SessionEstablishing:
		return "Establishing"
	case SessionEstablished:
		return "Established"
	case SessionTerminating:
		return "Terminating"
	case SessionTerminated:
		return "Terminated"
	}
	return "Unknown"
}

// TerminationCause tells who ended the session
type TerminationCause int

const (
	CauseNone TerminationCause = iota
	// CauseLocal means we sent CANCEL, BYE or final response
	CauseLocal
	CauseRemoteBye
	CauseRemoteCancel
	// CauseRefused means remote answered invite with non 2xx
	CauseRefused
	CauseFailed
)

// SessionEvent is state change of session. Cause and Err are set only on Terminated.
type SessionEvent struct {
	State SessionState
	Cause TerminationCause
	Err   error
}

// Session is one SIP dialog owned by the engine
type Session interface {
	ID() string
	Direction() Direction
	// RemoteUser is user part of remote party address
	RemoteUser() string
	State() SessionState
	// OnStateChange sets listener for state changes. Only one listener is kept.
	OnStateChange(fn func(ev SessionEvent))
	// OnDTMF sets listener for digits sent by remote
	OnDTMF(fn func(digit rune))

	Accept(ctx context.Context, local *media.Stream) error
	Reject(ctx context.Context, code int, reason string) error
	Cancel(ctx context.Context) error
	Bye(ctx context.Context) error
	// Hold renegotiates media direction with re-INVITE
	Hold(ctx context.Context, hold bool) error
	SendDTMF(ctx context.Context, digit rune) error

	RemoteStream() *media.Stream
	// SetLocalStream replaces stream sent to remote
	SetLocalStream(s *media.Stream) error
}
