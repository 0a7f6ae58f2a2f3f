// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"fmt"
	"time"

	"github.com/arnaldorodrigues/webphone/media"
)

type OutcomeKind string

const (
	OutcomeEstablished          OutcomeKind = "established"
	OutcomeCanceledBeforeAnswer OutcomeKind = "canceled"
	OutcomeRemoteEnded          OutcomeKind = "remote_ended"
	OutcomeLocalEnded           OutcomeKind = "local_ended"
	OutcomeRejected             OutcomeKind = "rejected"
	OutcomeFailed               OutcomeKind = "failed"
)

// CallOutcome is how call ended. It is carried only by terminal snapshot.
type CallOutcome struct {
	Kind   OutcomeKind
	Reason string
}

func (o CallOutcome) String() string {
	if o.Reason == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Reason)
}

type HoldMode int

const (
	HoldNone HoldMode = iota
	// HoldRenegotiated means remote accepted sendonly offer
	HoldRenegotiated
	// HoldLocalOnly means renegotiation failed and only flag flipped.
	// Remote may still receive audio.
	HoldLocalOnly
)

func (m HoldMode) String() string {
	switch m {
	case HoldRenegotiated:
		return "renegotiated"
	case HoldLocalOnly:
		return "local-only"
	}
	return "none"
}

// HoldResult is returned by ToggleHold. OK is false when there is no active
// call or previous toggle is still renegotiating.
type HoldResult struct {
	OK     bool
	OnHold bool
	Mode   HoldMode
	Err    error
}

// Degraded reports hold state that was not negotiated with remote
func (r HoldResult) Degraded() bool {
	return r.Mode == HoldLocalOnly
}

// CallState is snapshot delivered to observers. It is always a copy.
type CallState struct {
	IsRegistered  bool
	IsCallActive  bool
	RemoteNumber  string
	CallDuration  int
	CallStartTime *time.Time
	IncomingCall  bool
	IsMuted       bool
	IsOnHold      bool
	HoldMode      HoldMode
	LocalStream   *media.Stream
	RemoteStream  *media.Stream
	Outcome       *CallOutcome
}

func (s CallState) Clone() CallState {
	c := s
	if s.CallStartTime != nil {
		t := *s.CallStartTime
		c.CallStartTime = &t
	}
	if s.Outcome != nil {
		o := *s.Outcome
		c.Outcome = &o
	}
	return c
}
