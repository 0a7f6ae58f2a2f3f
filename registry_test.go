// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallRegistry(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newCallRegistry(2)

	a := newCall(DirectionOutgoing, "1001", now, callHooks{})
	b := newCall(DirectionIncoming, "2002", now, callHooks{})
	require.NoError(t, a.fsm.fire(evInviteSent))
	require.NoError(t, b.fsm.fire(evInviteReceived))
	r.store(a)
	r.store(b)
	r.store(a)

	assert.Equal(t, 2, r.len())
	assert.Same(t, a, r.current())
	assert.Len(t, r.active(), 2)
	assert.Zero(t, r.established())

	require.NoError(t, b.fsm.fire(evAccepted))
	assert.Equal(t, 1, r.established())

	// Terminated entry leaves live views even before removal
	require.True(t, a.fsm.terminate(CallOutcome{Kind: OutcomeCanceledBeforeAnswer}))
	assert.Same(t, b, r.current())
	assert.Len(t, r.active(), 1)

	a.timers.HangupAt = now.Add(time.Second)
	rec, ok := r.remove(a.id)
	require.True(t, ok)
	assert.Equal(t, "1001", rec.RemoteNumber)
	_, ok = r.remove(a.id)
	assert.False(t, ok)

	_, ok = r.load(a.id)
	assert.False(t, ok)
	loaded, ok := r.load(b.id)
	require.True(t, ok)
	assert.Same(t, b, loaded)
}

func TestCallRegistryRecordsBounded(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := newCallRegistry(2)

	for _, n := range []string{"1", "2", "3"} {
		c := newCall(DirectionOutgoing, n, now, callHooks{})
		r.store(c)
		_, ok := r.remove(c.id)
		require.True(t, ok)
	}

	hist := r.history()
	require.Len(t, hist, 2)
	assert.Equal(t, "2", hist[0].RemoteNumber)
	assert.Equal(t, "3", hist[1].RemoteNumber)
	assert.Nil(t, r.current())
}

func TestCallTimersDuration(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	timers := CallTimers{CreatedAt: start}
	assert.Zero(t, timers.Duration())

	timers.AnsweredAt = start.Add(2 * time.Second)
	timers.HangupAt = start.Add(7*time.Second + 400*time.Millisecond)
	assert.Equal(t, 5*time.Second, timers.Duration())
}
