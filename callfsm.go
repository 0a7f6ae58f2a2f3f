// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

const (
	callIdle        = "idle"
	callOutgoing    = "outgoing"
	callIncoming    = "incoming"
	callEstablished = "established"
	callTerminated  = "terminated"
)

const (
	evInviteSent     = "invite_sent"
	evInviteReceived = "invite_received"
	evAccepted       = "accepted"
	evCanceled       = "canceled"
	evRejected       = "rejected"
	evRemoteCanceled = "remote_canceled"
	evRefused        = "refused"
	evEnded          = "ended"
	evFailed         = "failed"
)

var callEvents = fsm.Events{
	{Name: evInviteSent, Src: []string{callIdle}, Dst: callOutgoing},
	{Name: evInviteReceived, Src: []string{callIdle}, Dst: callIncoming},
	{Name: evAccepted, Src: []string{callOutgoing, callIncoming}, Dst: callEstablished},
	{Name: evCanceled, Src: []string{callOutgoing}, Dst: callTerminated},
	{Name: evRejected, Src: []string{callIncoming}, Dst: callTerminated},
	{Name: evRemoteCanceled, Src: []string{callIncoming}, Dst: callTerminated},
	{Name: evRefused, Src: []string{callOutgoing}, Dst: callTerminated},
	{Name: evEnded, Src: []string{callEstablished}, Dst: callTerminated},
	{Name: evFailed, Src: []string{callOutgoing, callIncoming, callEstablished}, Dst: callTerminated},
}

// callHooks are side effects run when call enters state
type callHooks struct {
	established func()
	terminated  func(outcome CallOutcome)
}

// callFSM is lifecycle of single call
type callFSM struct {
	f *fsm.FSM
}

func newCallFSM(h callHooks) *callFSM {
	f := fsm.NewFSM(callIdle, callEvents, fsm.Callbacks{
		"enter_" + callEstablished: func(_ context.Context, e *fsm.Event) {
			if h.established != nil {
				h.established()
			}
		},
		"enter_" + callTerminated: func(_ context.Context, e *fsm.Event) {
			outcome := CallOutcome{Kind: OutcomeFailed}
			if len(e.Args) > 0 {
				if o, ok := e.Args[0].(CallOutcome); ok {
					outcome = o
				}
			}
			if h.terminated != nil {
				h.terminated(outcome)
			}
		},
	})
	return &callFSM{f: f}
}

// fire runs event. Event not allowed in current state returns error and keeps state.
func (m *callFSM) fire(event string, args ...interface{}) error {
	err := m.f.Event(context.Background(), event, args...)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

// terminate moves call into terminated from any live state with matching event
func (m *callFSM) terminate(outcome CallOutcome) bool {
	if m.terminated() {
		return false
	}

	event := evFailed
	switch outcome.Kind {
	case OutcomeCanceledBeforeAnswer:
		if m.f.Is(callIncoming) {
			event = evRemoteCanceled
		} else {
			event = evCanceled
		}
	case OutcomeRejected:
		if m.f.Is(callIncoming) {
			event = evRejected
		} else {
			event = evRefused
		}
	case OutcomeRemoteEnded, OutcomeLocalEnded:
		event = evEnded
	}

	if !m.f.Can(event) {
		event = evFailed
		if !m.f.Can(event) {
			return false
		}
	}
	return m.fire(event, outcome) == nil
}

func (m *callFSM) current() string {
	return m.f.Current()
}

func (m *callFSM) is(state string) bool {
	return m.f.Is(state)
}

func (m *callFSM) terminated() bool {
	return m.f.Is(callTerminated)
}
